package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Snapshot is the engine's view of one symbol at one instant. Indicators are
// opaque inputs computed upstream; this package never derives them.
type Snapshot struct {
	Symbol         string             `json:"symbol"`
	Price          float64            `json:"price"`
	Change24h      float64            `json:"change_24h"`
	Volume24h      float64            `json:"volume_24h"`
	AvgVolume      float64            `json:"avg_volume"`
	Indicators     map[string]float64 `json:"indicators"`
	LargeTransfers []Transfer         `json:"large_transfers"`
}

type Transfer struct {
	AmountUSD float64 `json:"amount_usd"`
	Direction string  `json:"direction"`
}

type Source interface {
	GetSnapshot(ctx context.Context, symbol string) (Snapshot, error)
}

type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) GetSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	fullURL := fmt.Sprintf("%s/v1/snapshot?symbol=%s", s.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("market api error (status %d): %s", resp.StatusCode, string(body))
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, err
	}
	if snap.Symbol == "" {
		snap.Symbol = symbol
	}
	return snap, nil
}
