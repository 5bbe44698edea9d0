package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAccount = "account"
	RoleService = "service"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of an access token. Role distinguishes normal
// accounts from service callers allowed on the ops endpoints.
type Claims struct {
	AccountID string `json:"aid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateToken(secret, accountID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountID: accountID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, err
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Receipt is the payload of a signed purchase receipt. The payment provider
// signs it with the shared receipt secret; the credits endpoint only accepts
// top-ups carrying a valid one.
type Receipt struct {
	AccountID string `json:"aid"`
	Credits   int64  `json:"credits"`
	Reference string `json:"ref"`
	jwt.RegisteredClaims
}

func SignReceipt(secret, accountID string, credits int64, reference string, ttl time.Duration) (string, error) {
	now := time.Now()
	receipt := Receipt{
		AccountID: accountID,
		Credits:   credits,
		Reference: reference,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, receipt)
	return token.SignedString([]byte(secret))
}

func ParseReceipt(secret, tokenString string) (Receipt, error) {
	var receipt Receipt
	token, err := jwt.ParseWithClaims(tokenString, &receipt, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Receipt{}, err
	}
	if !token.Valid {
		return Receipt{}, ErrInvalidToken
	}
	return receipt, nil
}

// NewAPIKey returns a fresh random key. It is shown to the caller exactly
// once at provisioning; only the bcrypt hash is stored.
func NewAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckAPIKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
