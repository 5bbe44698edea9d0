package validator

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidHandle = errors.New("invalid handle")
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrInvalidAction = errors.New("invalid action")
	ErrInvalidTier   = errors.New("invalid tier")
)

var (
	handleRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
	symbolRegex = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)
	actionRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{2,40}$`)
)

var tiers = map[string]bool{
	"free":    true,
	"paid":    true,
	"premium": true,
}

func ValidateHandle(handle string) error {
	if !handleRegex.MatchString(handle) {
		return ErrInvalidHandle
	}
	return nil
}

func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(symbol) {
		return ErrInvalidSymbol
	}
	return nil
}

func ValidateAction(action string) error {
	if !actionRegex.MatchString(action) {
		return ErrInvalidAction
	}
	return nil
}

func ValidateTier(tier string) error {
	if !tiers[tier] {
		return ErrInvalidTier
	}
	return nil
}
