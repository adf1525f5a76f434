// Package store defines the interface for database implementations of the sample archive. The archive is write-only:
// tokenmon appends the prices and balances read in every refresh cycle and never loads them back.
package store

import (
	"errors"

	"github.com/tarancss/tokenmon/lib/block/types"
)

// DB defines the methods required to archive samples.
type DB interface {
	SavePrices(net string, p []types.Price) error
	SaveBalances(net string, b []types.Balance) error
}

// Errors returned
var (
	ErrNoStore = errors.New("store: unknown database type")
)
