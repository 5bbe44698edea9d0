package credits

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid credit amount")

// ParseAmount parses a whole, positive credit amount.
func ParseAmount(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || value <= 0 {
		return 0, ErrInvalidAmount
	}
	return value, nil
}

// ParseCostTable parses "key=cost,key=cost" overrides. Malformed pairs are
// skipped so a bad env value cannot take the price table down.
func ParseCostTable(raw string) map[string]int64 {
	table := make(map[string]int64)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if key == "" || err != nil || value < 0 {
			continue
		}
		table[key] = value
	}
	return table
}

// ParseBundles parses a "10,50,200" list of purchasable bundle sizes,
// deduplicated and sorted ascending.
func ParseBundles(raw string) []int64 {
	seen := make(map[int64]struct{})
	var bundles []int64
	for _, part := range strings.Split(raw, ",") {
		value, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || value <= 0 {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		bundles = append(bundles, value)
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i] < bundles[j] })
	return bundles
}

// SuggestBundle returns the smallest bundle covering deficit, or the largest
// bundle when none does. Zero when no bundles are configured.
func SuggestBundle(bundles []int64, deficit int64) int64 {
	var best int64
	for _, bundle := range bundles {
		if bundle >= deficit {
			if best == 0 || bundle < best {
				best = bundle
			}
		}
	}
	if best == 0 && len(bundles) > 0 {
		for _, bundle := range bundles {
			if bundle > best {
				best = bundle
			}
		}
	}
	return best
}

func ValueToInt64(value interface{}) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case uint32:
		return int64(v)
	case []byte:
		parsed, _ := strconv.ParseInt(string(v), 10, 64)
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(v, 10, 64)
		return parsed
	default:
		parsed, _ := strconv.ParseInt(fmt.Sprint(v), 10, 64)
		return parsed
	}
}
