// Package tokenstate keeps the last known metadata and USD price of a monitored token.
package tokenstate

import (
	"strings"
	"sync"
	"time"

	"github.com/tarancss/tokenmon/monitor/pricing"
)

// Token contains the state of a token in a chain. Each field has its own lock so a slow writer of one field never
// delays readers of another. There is no atomicity across fields.
type Token struct {
	Address  string           // checksummed or lower case, as configured
	Chain    string           // chain name
	Strategy pricing.Strategy // nil if the token has no price source

	ln   sync.RWMutex // protects name
	name string

	ld       sync.RWMutex // protects decimals and known
	decimals uint8
	known    bool

	lp      sync.RWMutex // protects price and updated
	price   float64
	updated time.Time
}

// Snapshot is a copy of the token state at some instant. Fields may come from different refreshes.
type Snapshot struct {
	Address       string    `json:"address"`
	Chain         string    `json:"chain"`
	Strategy      string    `json:"strategy"`
	Name          string    `json:"name"`
	Decimals      uint8     `json:"decimals"`
	DecimalsKnown bool      `json:"decimalsKnown"`
	USD           float64   `json:"usd"`
	Updated       time.Time `json:"updated,omitempty"`
}

// New returns a token with unknown name, decimals and price.
func New(chain, address string, s pricing.Strategy) *Token {
	return &Token{Address: address, Chain: chain, Strategy: s}
}

// Key returns the token address in lower case, as used in metric labels.
func (t *Token) Key() string {
	return strings.ToLower(t.Address)
}

// Name returns the token name, empty until first read.
func (t *Token) Name() string {
	t.ln.RLock()
	defer t.ln.RUnlock()

	return t.name
}

// SetName sets the token name and reports whether it changed.
func (t *Token) SetName(name string) (changed bool) {
	t.ln.Lock()
	defer t.ln.Unlock()

	changed = t.name != name
	t.name = name

	return
}

// Decimals returns the token decimals and whether they have been read already.
func (t *Token) Decimals() (uint8, bool) {
	t.ld.RLock()
	defer t.ld.RUnlock()

	return t.decimals, t.known
}

// SetDecimals sets the token decimals and reports whether they changed. The first set always counts as a change.
func (t *Token) SetDecimals(d uint8) (changed bool) {
	t.ld.Lock()
	defer t.ld.Unlock()

	changed = !t.known || t.decimals != d
	t.decimals, t.known = d, true

	return
}

// Price returns the last resolved USD price, 0 if never resolved.
func (t *Token) Price() float64 {
	t.lp.RLock()
	defer t.lp.RUnlock()

	return t.price
}

// SetPrice stores a successfully resolved price.
func (t *Token) SetPrice(usd float64, ts time.Time) {
	t.lp.Lock()
	t.price, t.updated = usd, ts
	t.lp.Unlock()
}

// Input returns what the price resolver needs to know about the token.
func (t *Token) Input() pricing.Input {
	d, ok := t.Decimals()

	return pricing.Input{Address: t.Address, Decimals: d, DecimalsKnown: ok}
}

// Snapshot returns a copy of the token state.
func (t *Token) Snapshot() Snapshot {
	s := Snapshot{Address: t.Address, Chain: t.Chain, Strategy: "none", Name: t.Name()}
	if t.Strategy != nil {
		s.Strategy = t.Strategy.Name()
	}

	s.Decimals, s.DecimalsKnown = t.Decimals()

	t.lp.RLock()
	s.USD, s.Updated = t.price, t.updated
	t.lp.RUnlock()

	return s
}
