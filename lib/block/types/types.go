// Package types common blockchain types.
package types

import (
	"errors"
	"fmt"
	"time"
)

// Price is a resolved USD price for a token, as published to the broker and saved to the archive.
type Price struct {
	Net      string    `json:"net" bson:"net"`
	Token    string    `json:"token" bson:"token"`
	Name     string    `json:"name" bson:"name"`
	Decimals uint8     `json:"decimals" bson:"decimals"`
	USD      float64   `json:"usd" bson:"usd"`
	TS       time.Time `json:"ts" bson:"ts"`
}

// Balance is a wallet holding of a token. Raw is the integer balance in token units, Amount is Raw scaled by the
// token decimals and USD is zero when the token price is unknown.
type Balance struct {
	Net    string    `json:"net" bson:"net"`
	Token  string    `json:"token" bson:"token"`
	Name   string    `json:"name" bson:"name"`
	Wallet string    `json:"wallet" bson:"wallet"`
	Raw    string    `json:"raw" bson:"raw"`
	Amount float64   `json:"amount" bson:"amount"`
	USD    float64   `json:"usd,omitempty" bson:"usd,omitempty"`
	TS     time.Time `json:"ts" bson:"ts"`
}

// Error classes returned by chain clients. Implementations wrap the underlying error with one of them.
var (
	ErrProvider = errors.New("provider failure") // transport, timeout, node error or reverted call
	ErrParse    = errors.New("parse failure")    // unexpected or overflowing response
)

// Error codes.
var (
	ErrBadAddress = errors.New("invalid address")
	ErrNoResult   = errors.New("empty call result")
	ErrOverflow   = fmt.Errorf("value does not fit: %w", ErrParse)
)
