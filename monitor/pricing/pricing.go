// Package pricing resolves the USD price of a token from the pricing strategy configured for it. Strategies form a
// closed set (Fixed, UniswapV2 and UniswapV3) selected per token by configuration. Resolution never retries: a failed
// resolution is reported to the caller, which keeps the previous price until its next refresh.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/tarancss/tokenmon/lib/block/types"
	"github.com/tarancss/tokenmon/lib/config"
)

// DefaultCounterDecimals is assumed for a UniswapV3 counter token when not configured (USD stable coins).
const DefaultCounterDecimals = 6

// divPrecision is the number of decimal places kept when dividing reserves.
const divPrecision = 36

// Kind classifies a resolution failure.
type Kind int

// Resolution failure kinds.
const (
	ProviderFailure Kind = iota // the chain client failed: timeout, network, node error, revert
	ParseFailure                // the data read cannot produce a price
)

func (k Kind) String() string {
	switch k {
	case ProviderFailure:
		return "provider"
	case ParseFailure:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is returned by Resolve.
type Error struct {
	Kind     Kind
	Strategy string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pricing: %s %s failure: %v", e.Strategy, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errors wrapped by parse failures.
var (
	ErrNoDecimals = errors.New("token decimals not known yet")
	ErrNoReserve  = errors.New("pool has an empty reserve")
	ErrBadRoles   = errors.New("reserve roles must be 0 and 1 in some order")
	ErrBadPrice   = errors.New("price is not a finite positive number")
)

// Quoter is the subset of block.Chain used to resolve prices.
type Quoter interface {
	V2Reserves(ctx context.Context, pool string) (reserve0, reserve1 *big.Int, err error)
	V3Quote(ctx context.Context, quoter, tokenIn, tokenOut string, fee uint32, amountIn *big.Int) (*big.Int, error)
}

// Input is the priced token as currently known: its address and, if already read, its decimals.
type Input struct {
	Address       string
	Decimals      uint8
	DecimalsKnown bool
}

// Strategy is one of Fixed, UniswapV2 or UniswapV3.
type Strategy interface {
	// Name identifies the strategy in logs and metrics.
	Name() string
	// NeedsDecimals reports whether the token decimals must be known before resolving.
	NeedsDecimals() bool

	resolve(ctx context.Context, in Input, q Quoter) (decimal.Decimal, error)
}

// Fixed is a constant USD rate.
type Fixed struct {
	Rate float64
}

// UniswapV2 is the reserve ratio of a two-asset pool. Base and Quote are the reserve indexes (0 or 1, as returned by
// getReserves) of the priced token and of the USD-like token.
type UniswapV2 struct {
	Pool          string
	Base, Quote   int
	BaseDecimals  uint8
	QuoteDecimals uint8
}

// UniswapV3 is the output of a one-unit swap quote into a USD-like counter token.
type UniswapV3 struct {
	Quoter          string
	CounterToken    string
	Fee             uint32
	CounterDecimals uint8
}

// Name returns "fixed".
func (Fixed) Name() string { return "fixed" }

// NeedsDecimals returns false.
func (Fixed) NeedsDecimals() bool { return false }

// Name returns "uniswapV2".
func (UniswapV2) Name() string { return "uniswapV2" }

// NeedsDecimals returns false: both decimals are part of the strategy.
func (UniswapV2) NeedsDecimals() bool { return false }

// Name returns "uniswapV3".
func (UniswapV3) Name() string { return "uniswapV3" }

// NeedsDecimals returns true: the quoted amount is one whole unit of the token.
func (UniswapV3) NeedsDecimals() bool { return true }

func (f Fixed) resolve(_ context.Context, _ Input, _ Quoter) (decimal.Decimal, error) {
	if math.IsNaN(f.Rate) || math.IsInf(f.Rate, 0) {
		return decimal.Zero, ErrBadPrice
	}

	return decimal.NewFromFloat(f.Rate), nil
}

func (s UniswapV2) resolve(ctx context.Context, _ Input, q Quoter) (decimal.Decimal, error) {
	if s.Base < 0 || s.Base > 1 || s.Quote < 0 || s.Quote > 1 || s.Base == s.Quote {
		return decimal.Zero, ErrBadRoles
	}

	r0, r1, err := q.V2Reserves(ctx, s.Pool)
	if err != nil {
		return decimal.Zero, err
	}

	reserves := [2]*big.Int{r0, r1}
	base := Scale(reserves[s.Base], s.BaseDecimals)
	quote := Scale(reserves[s.Quote], s.QuoteDecimals)

	if base.Sign() <= 0 || quote.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%s: %w", s.Pool, ErrNoReserve)
	}

	return quote.DivRound(base, divPrecision), nil
}

func (s UniswapV3) resolve(ctx context.Context, in Input, q Quoter) (decimal.Decimal, error) {
	if !in.DecimalsKnown {
		return decimal.Zero, ErrNoDecimals
	}

	amountIn := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(in.Decimals)), nil)

	out, err := q.V3Quote(ctx, s.Quoter, in.Address, s.CounterToken, s.Fee, amountIn)
	if err != nil {
		return decimal.Zero, err
	}

	price := Scale(out, s.CounterDecimals)
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%s quoted %s: %w", s.Quoter, price, ErrBadPrice)
	}

	return price, nil
}

// FromConfig returns the strategy configured for a token, or nil if none is. The config must have been validated.
func FromConfig(t config.TokenConfig) Strategy {
	switch {
	case t.Fixed != nil:
		return Fixed{Rate: *t.Fixed}
	case t.UniswapV2 != nil:
		return UniswapV2{
			Pool:          t.UniswapV2.Pool,
			Base:          role(t.UniswapV2.BaseReserve),
			Quote:         role(t.UniswapV2.QuoteReserve),
			BaseDecimals:  t.UniswapV2.BaseDecimals,
			QuoteDecimals: t.UniswapV2.QuoteDecimals,
		}
	case t.UniswapV3 != nil:
		s := UniswapV3{
			Quoter:          t.UniswapV3.Quoter,
			CounterToken:    t.UniswapV3.CounterToken,
			Fee:             t.UniswapV3.Fee,
			CounterDecimals: DefaultCounterDecimals,
		}
		if t.UniswapV3.CounterDecimals != nil {
			s.CounterDecimals = *t.UniswapV3.CounterDecimals
		}

		return s
	}

	return nil
}

// role returns the reserve index, or -1 if it was not configured so resolving fails with ErrBadRoles.
func role(i *int) int {
	if i == nil {
		return -1
	}

	return *i
}

// Resolve returns the USD price of the token using strategy s. Errors are of type *Error.
func Resolve(ctx context.Context, s Strategy, in Input, q Quoter) (float64, error) {
	if s == nil {
		return 0, &Error{Kind: ParseFailure, Strategy: "none", Err: errors.New("no pricing strategy")}
	}

	d, err := s.resolve(ctx, in, q)
	if err != nil {
		return 0, classify(s, err)
	}

	price, _ := d.Float64()
	if d.Sign() < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, &Error{Kind: ParseFailure, Strategy: s.Name(), Err: fmt.Errorf("%s: %w", d, ErrBadPrice)}
	}

	return price, nil
}

// classify maps chain client and computation errors to a failure kind.
func classify(s Strategy, err error) *Error {
	kind := ProviderFailure
	if errors.Is(err, types.ErrParse) || errors.Is(err, ErrNoDecimals) || errors.Is(err, ErrNoReserve) ||
		errors.Is(err, ErrBadRoles) || errors.Is(err, ErrBadPrice) {
		kind = ParseFailure
	}

	return &Error{Kind: kind, Strategy: s.Name(), Err: err}
}

// Scale returns raw / 10^decimals exactly. A nil raw value is zero.
func Scale(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}

	return decimal.NewFromBigInt(raw, -int32(decimals))
}
