// Package monitor implements the token monitor service. On every refresh cycle the monitor reads, for all the
// configured tokens of every chain, the token metadata, its USD price and the balance of every configured wallet, and
// updates the exported gauges. Chains and tokens are refreshed concurrently; the calls made to one node are bounded by
// a limiter shared by every chain connected to that node, and every call has its own timeout.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tarancss/tokenmon/lib/block"
	"github.com/tarancss/tokenmon/lib/block/types"
	"github.com/tarancss/tokenmon/lib/config"
	"github.com/tarancss/tokenmon/lib/metrics"
	"github.com/tarancss/tokenmon/lib/msg"
	"github.com/tarancss/tokenmon/lib/store"
	"github.com/tarancss/tokenmon/lib/util"
	"github.com/tarancss/tokenmon/monitor/pricing"
	"github.com/tarancss/tokenmon/monitor/tokenstate"
)

// Status possible values.
const (
	IDLE    int = 0
	RUNNING int = 1
)

// Operations, as counted in the errors metric.
const (
	OpName     = "name"
	OpDecimals = "decimals"
	OpPrice    = "price"
	OpBalance  = "balance"
)

// Errors returned
var (
	ErrNoChain    = errors.New("monitor: chain has no client")
	ErrNoDecimals = errors.New("monitor: token decimals not known yet")
)

// Report summarises a refresh cycle.
type Report struct {
	Cycle    int
	Skipped  bool // another cycle was running
	Tokens   int
	Prices   int // prices resolved
	Balances int // balances read
	Errors   int
	Duration time.Duration
}

// chain is a configured chain with its client and token states.
type chain struct {
	name    string
	c       limited
	wallets []string
	tokens  []*tokenstate.Token
}

// Monitor implements the token monitor service.
type Monitor struct {
	g  *metrics.Gauges
	mb msg.MsgBroker // optional
	db store.DB      // optional

	interval      time.Duration
	nameEvery     int
	decimalsEvery int
	chains        []*chain // in config order

	l      sync.Mutex // protects status and cycle
	status int
	cycle  int

	stop chan struct{}
	once sync.Once
}

// New instantiates a new monitor for the chains in conf. bc must hold a client for every configured chain. The broker
// and database are optional (nil).
func New(conf config.ServiceConfig, bc map[string]block.Chain, g *metrics.Gauges, mb msg.MsgBroker,
	db store.DB,
) (*Monitor, error) {
	m := &Monitor{
		g:             g,
		mb:            mb,
		db:            db,
		interval:      time.Duration(conf.Interval) * time.Second,
		nameEvery:     conf.NameEvery,
		decimalsEvery: conf.DecimalsEvery,
		stop:          make(chan struct{}),
	}

	timeout := time.Duration(conf.Timeout) * time.Second
	limits := limiters(conf)

	for _, cc := range conf.Chains {
		c, ok := bc[cc.Name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", cc.Name, ErrNoChain)
		}

		ch := &chain{
			name:    cc.Name,
			c:       limited{c: c, sem: limits[cc.Node], timeout: timeout},
			wallets: cc.Wallets,
		}

		for _, t := range cc.Tokens {
			ch.tokens = append(ch.tokens, tokenstate.New(cc.Name, t.Address, pricing.FromConfig(t)))
		}

		m.chains = append(m.chains, ch)

		log.Printf("[%s] Monitoring %d tokens for %d wallets", cc.Name, len(ch.tokens), len(ch.wallets))
	}

	return m, nil
}

// limiters returns a semaphore per node url. Chains sharing a node share its semaphore, sized by the lowest limit
// configured among them.
func limiters(conf config.ServiceConfig) map[string]*semaphore.Weighted {
	size := make(map[string]int64)

	for _, cc := range conf.Chains {
		n := int64(conf.Concurrency)
		if cc.MaxConcurrency > 0 {
			n = int64(cc.MaxConcurrency)
		}

		if cur, ok := size[cc.Node]; !ok || n < cur {
			size[cc.Node] = n
		}
	}

	limits := make(map[string]*semaphore.Weighted, len(size))
	for node, n := range size {
		limits[node] = semaphore.NewWeighted(n)
	}

	return limits
}

// Run starts the refresh loop: a first cycle right away and then one every interval. Ticks arriving while a cycle is
// running are dropped. The loop ends when ctx is done or Stop is called, after the running cycle finishes; then the
// returned channel receives a message.
func (m *Monitor) Run(ctx context.Context) chan string {
	ret := make(chan string, 1)

	go func() {
		t := time.NewTicker(m.interval)

		defer func() {
			t.Stop()
			ret <- "Done!"
		}()

		for {
			r := m.RunCycle(ctx)
			log.Printf("Cycle %d: %d tokens, %d prices, %d balances, %d errors in %s", r.Cycle, r.Tokens, r.Prices,
				r.Balances, r.Errors, r.Duration)

			// drop a tick that arrived during the cycle
			select {
			case <-t.C:
			default:
			}

			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-t.C:
			}
		}
	}()

	return ret
}

// Stop ends the refresh loop started by Run.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// Status returns IDLE or RUNNING.
func (m *Monitor) Status() int {
	m.l.Lock()
	defer m.l.Unlock()

	return m.status
}

// RunCycle refreshes every token of every chain and waits for all of them. If a cycle is already running, it returns
// at once with Skipped set.
func (m *Monitor) RunCycle(ctx context.Context) Report {
	m.l.Lock()
	if m.status == RUNNING {
		m.l.Unlock()

		return Report{Skipped: true}
	}

	m.status = RUNNING
	m.cycle++
	r := Report{Cycle: m.cycle}
	m.l.Unlock()

	defer func() {
		m.l.Lock()
		m.status = IDLE
		m.l.Unlock()
	}()

	start := time.Now()

	var (
		wg                       sync.WaitGroup
		prices, balances, failed int64
	)

	for _, ch := range m.chains {
		wg.Add(1)

		go func(ch *chain) {
			defer wg.Done()

			s := m.refreshChain(ctx, ch, r.Cycle)
			atomic.AddInt64(&prices, int64(len(s.prices)))
			atomic.AddInt64(&balances, int64(len(s.balances)))
			atomic.AddInt64(&failed, s.errors)

			m.export(ch.name, s)
		}(ch)

		r.Tokens += len(ch.tokens)
	}

	wg.Wait()

	r.Prices, r.Balances, r.Errors = int(prices), int(balances), int(failed)
	r.Duration = time.Since(start)

	m.g.CycleSeconds.Observe(r.Duration.Seconds())
	m.g.LastCycle.SetToCurrentTime()

	return r
}

// samples collects what a chain refresh read, to be published and archived.
type samples struct {
	l        sync.Mutex
	prices   []types.Price
	balances []types.Balance
	errors   int64
}

// refreshChain refreshes every token of the chain concurrently.
func (m *Monitor) refreshChain(ctx context.Context, ch *chain, cycle int) *samples {
	s := &samples{}

	var wg sync.WaitGroup

	for _, tok := range ch.tokens {
		wg.Add(1)

		go func(tok *tokenstate.Token) {
			defer wg.Done()

			m.refreshToken(ctx, ch, tok, cycle, s)
		}(tok)
	}

	wg.Wait()

	return s
}

// due tells whether a metadata field has to be read in this cycle. every = 0 reads it until known.
func due(every, cycle int, known bool) bool {
	if !known {
		return true
	}

	return every > 0 && (cycle-1)%every == 0
}

// refreshToken reads the token name and decimals when due, then its price and the balance of every wallet.
func (m *Monitor) refreshToken(ctx context.Context, ch *chain, tok *tokenstate.Token, cycle int, s *samples) {
	if due(m.nameEvery, cycle, tok.Name() != "") {
		name, err := ch.c.Name(ctx, tok.Address)

		switch {
		case err != nil:
			m.failed(ch.name, tok.Address, OpName, err, s)
		default:
			old := tok.Name()
			// series labelled with the old name, empty while the first reads failed, would stay exported
			if tok.SetName(name) {
				if n := m.g.DropToken(ch.name, tok.Address); n > 0 || old != "" {
					log.Printf("[%s] %s renamed from %q to %q, dropped %d series", ch.name, tok.Address, old, name, n)
				}
			}
		}
	}

	if _, known := tok.Decimals(); due(m.decimalsEvery, cycle, known) {
		d, err := ch.c.Decimals(ctx, tok.Address)

		switch {
		case err != nil:
			m.failed(ch.name, tok.Address, OpDecimals, err, s)
		case tok.SetDecimals(d) && known:
			log.Printf("[%s] %s decimals changed to %d", ch.name, tok.Address, d)
		}
	}

	name := tok.Name()

	if tok.Strategy != nil {
		usd, err := pricing.Resolve(ctx, tok.Strategy, tok.Input(), ch.c)
		if err != nil {
			m.failed(ch.name, tok.Address, OpPrice, err, s)
		} else {
			tok.SetPrice(usd, time.Now())

			d, _ := tok.Decimals()

			s.l.Lock()
			s.prices = append(s.prices, types.Price{Net: ch.name, Token: tok.Key(), Name: name, Decimals: d, USD: usd,
				TS: time.Now()})
			s.l.Unlock()
		}
	}

	price := tok.Price()
	m.g.SetPrice(ch.name, tok.Address, name, price)

	var wg sync.WaitGroup

	for _, w := range ch.wallets {
		wg.Add(1)

		go func(w string) {
			defer wg.Done()

			m.refreshBalance(ctx, ch, tok, name, price, w, s)
		}(w)
	}

	wg.Wait()
}

// refreshBalance reads the balance of wallet w and sets its gauges with the token decimals and price already known.
func (m *Monitor) refreshBalance(ctx context.Context, ch *chain, tok *tokenstate.Token, name string, price float64,
	w string, s *samples,
) {
	who := tok.Address + "/" + w

	d, known := tok.Decimals()
	if !known {
		m.failed(ch.name, who, OpBalance, ErrNoDecimals, s)

		return
	}

	raw, err := ch.c.BalanceOf(ctx, tok.Address, w)
	if err != nil {
		m.failed(ch.name, who, OpBalance, err, s)

		return
	}

	amount, _ := pricing.Scale(raw, d).Float64()
	m.g.SetBalance(ch.name, tok.Address, name, w, amount, price)

	b := types.Balance{Net: ch.name, Token: tok.Key(), Name: name, Wallet: strings.ToLower(w), Raw: raw.String(),
		Amount: amount, TS: time.Now()}
	if price > 0 {
		b.USD = amount * price
	}

	s.l.Lock()
	s.balances = append(s.balances, b)
	s.l.Unlock()
}

// failed logs and counts a failed operation. The state of the token is not modified.
func (m *Monitor) failed(net, who, op string, err error, s *samples) {
	log.Printf("[%s] %s %s failed: %v", net, who, op, err)
	m.g.Failed(net, op)
	atomic.AddInt64(&s.errors, 1)
}

// export publishes the prices of a chain and archives its prices and balances.
func (m *Monitor) export(net string, s *samples) {
	if m.mb != nil && len(s.prices) > 0 {
		if err := m.mb.SendPrices(net, s.prices); err != nil {
			log.Printf("[%s] Error publishing %d prices, err:%v", net, len(s.prices), err)
		}
	}

	if m.db != nil {
		if err := m.db.SavePrices(net, s.prices); err != nil {
			log.Printf("[%s] Error saving %d prices to DB, err:%v", net, len(s.prices), err)
		}

		if err := m.db.SaveBalances(net, s.balances); err != nil {
			log.Printf("[%s] Error saving %d balances to DB, err:%v", net, len(s.balances), err)
		}
	}
}

// Networks returns the names of the monitored chains, sorted.
func (m *Monitor) Networks() []string {
	nets := make([]string, 0, len(m.chains))
	for _, ch := range m.chains {
		nets = append(nets, ch.name)
	}

	sort.Strings(nets)

	return nets
}

// Tokens returns a snapshot of the tokens of the chains in nets, or of every chain if nets is empty.
func (m *Monitor) Tokens(nets []string) []tokenstate.Snapshot {
	toks := []tokenstate.Snapshot{}

	for _, ch := range m.chains {
		if len(nets) > 0 && !util.In(nets, ch.name) {
			continue
		}

		for _, tok := range ch.tokens {
			toks = append(toks, tok.Snapshot())
		}
	}

	return toks
}

// limited wraps a chain client so every call waits for a permit of the node semaphore and is bounded by timeout.
type limited struct {
	c       block.Chain
	sem     *semaphore.Weighted
	timeout time.Duration
}

func (l limited) do(ctx context.Context, f func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("monitor: waiting for %s: %v: %w", l.c.Node(), err, types.ErrProvider)
	}
	defer l.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	return f(ctx)
}

func (l limited) Name(ctx context.Context, token string) (name string, err error) {
	err = l.do(ctx, func(ctx context.Context) error {
		name, err = l.c.Name(ctx, token)

		return err
	})

	return
}

func (l limited) Decimals(ctx context.Context, token string) (d uint8, err error) {
	err = l.do(ctx, func(ctx context.Context) error {
		d, err = l.c.Decimals(ctx, token)

		return err
	})

	return
}

func (l limited) BalanceOf(ctx context.Context, token, wallet string) (b *big.Int, err error) {
	err = l.do(ctx, func(ctx context.Context) error {
		b, err = l.c.BalanceOf(ctx, token, wallet)

		return err
	})

	return
}

func (l limited) V2Reserves(ctx context.Context, pool string) (r0, r1 *big.Int, err error) {
	err = l.do(ctx, func(ctx context.Context) error {
		r0, r1, err = l.c.V2Reserves(ctx, pool)

		return err
	})

	return
}

func (l limited) V3Quote(ctx context.Context, quoter, tokenIn, tokenOut string, fee uint32,
	amountIn *big.Int,
) (out *big.Int, err error) {
	err = l.do(ctx, func(ctx context.Context) error {
		out, err = l.c.V3Quote(ctx, quoter, tokenIn, tokenOut, fee, amountIn)

		return err
	})

	return
}
