package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/tarancss/tokenmon/lib/block/types"
	"github.com/tarancss/tokenmon/lib/config"
)

const (
	tok    = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdc   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	pool   = "0xa1181481bEb2dc5De0DaF2c85392d81C704BF75D"
	quoter = "0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"
)

// mockQuoter returns canned reserves and quotes and records the last quote request.
type mockQuoter struct {
	r0, r1   *big.Int
	out      *big.Int
	err      error
	calls    int
	amountIn *big.Int
	tokenIn  string
	tokenOut string
	fee      uint32
}

func (m *mockQuoter) V2Reserves(_ context.Context, _ string) (*big.Int, *big.Int, error) {
	m.calls++

	return m.r0, m.r1, m.err
}

func (m *mockQuoter) V3Quote(_ context.Context, _, tokenIn, tokenOut string, fee uint32, amountIn *big.Int) (*big.Int, error) {
	m.calls++
	m.tokenIn, m.tokenOut, m.fee, m.amountIn = tokenIn, tokenOut, fee, amountIn

	return m.out, m.err
}

// pow10 returns n * 10^exp.
func pow10(n int64, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

func TestFixed(t *testing.T) {
	failing := &mockQuoter{err: fmt.Errorf("node down: %w", types.ErrProvider)}

	for _, rate := range []float64{0, 1, 0.9998, 2500.5} {
		price, err := Resolve(context.Background(), Fixed{Rate: rate}, Input{Address: tok}, failing)
		if err != nil || price != rate {
			t.Errorf("fixed %v resolved to %v err:%v", rate, price, err)
		}
	}

	if failing.calls != 0 {
		t.Errorf("fixed strategy called the chain %d times", failing.calls)
	}

	if _, err := Resolve(context.Background(), Fixed{Rate: math.NaN()}, Input{}, failing); err == nil {
		t.Error("NaN rate should not resolve")
	}
}

func TestUniswapV2(t *testing.T) {
	cases := []struct {
		name  string
		r0    *big.Int
		r1    *big.Int
		s     UniswapV2
		price float64
		kind  Kind
		err   error
	}{
		// 1,000,000 USDC (6) against 500 tokens (18)
		{"quote0", pow10(1000000, 6), pow10(500, 18), UniswapV2{Pool: pool, Base: 1, Quote: 0, BaseDecimals: 18, QuoteDecimals: 6}, 2000, 0, nil},
		{"quote1", pow10(500, 18), pow10(1000000, 6), UniswapV2{Pool: pool, Base: 0, Quote: 1, BaseDecimals: 18, QuoteDecimals: 6}, 2000, 0, nil},
		{"fraction", pow10(3, 18), pow10(4, 18), UniswapV2{Pool: pool, Base: 1, Quote: 0, BaseDecimals: 18, QuoteDecimals: 18}, 0.75, 0, nil},
		{"emptyBase", pow10(1000000, 6), big.NewInt(0), UniswapV2{Pool: pool, Base: 1, Quote: 0, BaseDecimals: 18, QuoteDecimals: 6}, 0, ParseFailure, ErrNoReserve},
		{"emptyQuote", big.NewInt(0), pow10(1, 18), UniswapV2{Pool: pool, Base: 1, Quote: 0, BaseDecimals: 18, QuoteDecimals: 6}, 0, ParseFailure, ErrNoReserve},
		{"sameRoles", pow10(1, 6), pow10(1, 18), UniswapV2{Pool: pool, Base: 1, Quote: 1}, 0, ParseFailure, ErrBadRoles},
	}

	for _, c := range cases {
		q := &mockQuoter{r0: c.r0, r1: c.r1}

		price, err := Resolve(context.Background(), c.s, Input{Address: tok}, q)

		if c.err == nil {
			if err != nil || price != c.price {
				t.Errorf("[%s] price:%v expected:%v err:%v", c.name, price, c.price, err)
			}

			continue
		}

		var perr *Error
		if !errors.As(err, &perr) || perr.Kind != c.kind || !errors.Is(err, c.err) {
			t.Errorf("[%s] err:%v expected %s failure %v", c.name, err, c.kind, c.err)
		}
	}
}

func TestUniswapV3(t *testing.T) {
	s := UniswapV3{Quoter: quoter, CounterToken: usdc, Fee: 3000, CounterDecimals: 6}
	q := &mockQuoter{out: pow10(3000, 6)}

	price, err := Resolve(context.Background(), s, Input{Address: tok, Decimals: 18, DecimalsKnown: true}, q)
	if err != nil || price != 3000 {
		t.Errorf("price:%v err:%v", price, err)
	}

	if q.amountIn.Cmp(pow10(1, 18)) != 0 || q.tokenIn != tok || q.tokenOut != usdc || q.fee != 3000 {
		t.Errorf("quote request amountIn:%v in:%s out:%s fee:%d", q.amountIn, q.tokenIn, q.tokenOut, q.fee)
	}

	// decimals 8, one unit is 10^8
	q = &mockQuoter{out: big.NewInt(65000123456)}

	price, err = Resolve(context.Background(), s, Input{Address: tok, Decimals: 8, DecimalsKnown: true}, q)
	if err != nil || price != 65000.123456 || q.amountIn.Cmp(big.NewInt(100000000)) != 0 {
		t.Errorf("price:%v amountIn:%v err:%v", price, q.amountIn, err)
	}

	// unknown decimals: no call to the chain
	q = &mockQuoter{out: pow10(3000, 6)}

	_, err = Resolve(context.Background(), s, Input{Address: tok}, q)

	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != ParseFailure || !errors.Is(err, ErrNoDecimals) || q.calls != 0 {
		t.Errorf("err:%v calls:%d", err, q.calls)
	}

	// zero quote
	q = &mockQuoter{out: big.NewInt(0)}
	if _, err = Resolve(context.Background(), s, Input{Address: tok, Decimals: 18, DecimalsKnown: true}, q); !errors.Is(err, ErrBadPrice) {
		t.Errorf("err:%v expected:%v", err, ErrBadPrice)
	}
}

func TestResolveErrors(t *testing.T) {
	in := Input{Address: tok, Decimals: 18, DecimalsKnown: true}
	v2 := UniswapV2{Pool: pool, Base: 1, Quote: 0, BaseDecimals: 18, QuoteDecimals: 6}
	v3 := UniswapV3{Quoter: quoter, CounterToken: usdc, Fee: 500, CounterDecimals: 6}

	cases := []struct {
		name string
		s    Strategy
		err  error
		kind Kind
	}{
		{"v2Provider", v2, fmt.Errorf("timeout: %w", types.ErrProvider), ProviderFailure},
		{"v2Parse", v2, fmt.Errorf("short result: %w", types.ErrParse), ParseFailure},
		{"v3Provider", v3, context.DeadlineExceeded, ProviderFailure},
		{"v3Parse", v3, fmt.Errorf("overflow: %w", types.ErrParse), ParseFailure},
		{"none", nil, nil, ParseFailure},
	}

	for _, c := range cases {
		price, err := Resolve(context.Background(), c.s, in, &mockQuoter{err: c.err})

		var perr *Error
		if !errors.As(err, &perr) || perr.Kind != c.kind || price != 0 {
			t.Errorf("[%s] price:%v err:%v expected %s failure", c.name, price, err, c.kind)
		}

		if c.err != nil && !errors.Is(err, c.err) {
			t.Errorf("[%s] err:%v does not wrap %v", c.name, err, c.err)
		}
	}
}

func TestFromConfig(t *testing.T) {
	one := 1.0
	eight := uint8(8)

	if s := FromConfig(config.TokenConfig{Address: tok}); s != nil {
		t.Errorf("expected no strategy, got %v", s)
	}

	if s, ok := FromConfig(config.TokenConfig{Address: tok, Fixed: &one}).(Fixed); !ok || s.Rate != 1 {
		t.Errorf("expected fixed 1, got %v", s)
	}

	v2 := &config.UniswapV2{Pool: pool, BaseReserve: config.Index(1), QuoteReserve: config.Index(0), BaseDecimals: 18,
		QuoteDecimals: 6}
	if s, ok := FromConfig(config.TokenConfig{Address: tok, UniswapV2: v2}).(UniswapV2); !ok ||
		s != (UniswapV2{Pool: pool, Base: 1, Quote: 0, BaseDecimals: 18, QuoteDecimals: 6}) {
		t.Errorf("unexpected uniswapV2 %v", s)
	}

	// a missing role never defaults to reserve 0
	v2 = &config.UniswapV2{Pool: pool, BaseReserve: config.Index(1), BaseDecimals: 18, QuoteDecimals: 6}
	if _, err := Resolve(context.Background(), FromConfig(config.TokenConfig{Address: tok, UniswapV2: v2}), Input{},
		&mockQuoter{}); !errors.Is(err, ErrBadRoles) {
		t.Errorf("expected bad roles, got %v", err)
	}

	v3 := &config.UniswapV3{Quoter: quoter, CounterToken: usdc, Fee: 3000}
	if s, ok := FromConfig(config.TokenConfig{Address: tok, UniswapV3: v3}).(UniswapV3); !ok ||
		s.CounterDecimals != DefaultCounterDecimals || !s.NeedsDecimals() {
		t.Errorf("unexpected uniswapV3 %v", s)
	}

	v3.CounterDecimals = &eight
	if s, ok := FromConfig(config.TokenConfig{Address: tok, UniswapV3: v3}).(UniswapV3); !ok || s.CounterDecimals != 8 {
		t.Errorf("unexpected uniswapV3 %v", s)
	}
}

func TestScale(t *testing.T) {
	raw := big.NewInt(123456789)

	for dec := uint8(0); dec <= 18; dec++ {
		got, _ := Scale(raw, dec).Float64()
		exp := 123456789 / math.Pow10(int(dec))

		if math.Abs(got-exp) > 1e-12*math.Max(1, exp) {
			t.Errorf("decimals %d: %v expected %v", dec, got, exp)
		}
	}

	if !Scale(nil, 6).IsZero() {
		t.Error("nil should scale to zero")
	}
}
