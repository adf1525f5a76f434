// Package block defines the interface required for all blockchain or network connections.
package block

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/tarancss/tokenmon/lib/block/ethereum"
	"github.com/tarancss/tokenmon/lib/config"
)

// Chain is an interface that contains the read-only contract calls the monitor needs. Every call observes the
// latest state of the chain at call time; two calls are never guaranteed to see the same block. Errors wrap either
// types.ErrProvider or types.ErrParse.
type Chain interface {
	// member-type methods
	Node() string // url of the node the client is connected to
	// methods
	Close()
	Name(ctx context.Context, token string) (string, error)
	Decimals(ctx context.Context, token string) (uint8, error)
	BalanceOf(ctx context.Context, token, wallet string) (*big.Int, error)
	V2Reserves(ctx context.Context, pool string) (reserve0, reserve1 *big.Int, err error)
	V3Quote(ctx context.Context, quoter, tokenIn, tokenOut string, fee uint32, amountIn *big.Int) (*big.Int, error)
}

// Init loads all the clients read from the config to blockchains into a map keyed by chain name.
func Init(bc []config.ChainConfig) (m map[string]Chain, err error) {
	m = make(map[string]Chain)

	for _, c := range bc {
		if _, ok := m[c.Name]; ok {
			log.Printf("[%s] Blockchain defined twice. Ignoring...", c.Name)

			continue
		}

		var e *ethereum.Ethereum

		if e, err = ethereum.Init(c.Node, c.Secret); err != nil {
			End(m)

			return nil, fmt.Errorf("block: cannot connect to %s: %w", c.Name, err)
		}

		m[c.Name] = e
	}

	return m, nil
}

// End closes gracefully all the blockchain clients opened.
func End(bc map[string]Chain) {
	for _, c := range bc {
		c.Close()
	}
}
