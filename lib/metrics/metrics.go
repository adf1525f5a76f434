// Package metrics holds the prometheus gauges exported by tokenmon: token balances, their USD value and token prices,
// plus the operational metrics of the refresh loop. Every series lives in the registry of a Gauges value so several
// instances (ie. in tests) never collide.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label names.
const (
	LabelChain     = "chain"
	LabelToken     = "token"
	LabelTokenName = "token_name"
	LabelWallet    = "wallet"
	LabelOp        = "op"
)

// Namespace prefixes the operational metrics. The token gauges keep their bare names.
const Namespace = "tokenmon"

// Gauges is the metrics store.
type Gauges struct {
	reg *prometheus.Registry

	BalanceOf    *prometheus.GaugeVec
	BalanceOfUSD *prometheus.GaugeVec
	PriceInUSD   *prometheus.GaugeVec

	CycleSeconds prometheus.Histogram
	Errors       *prometheus.CounterVec
	LastCycle    prometheus.Gauge
}

// New creates the gauges in a new registry. Go runtime and process collectors are registered too.
func New() *Gauges {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	balance := []string{LabelChain, LabelToken, LabelTokenName, LabelWallet}

	return &Gauges{
		reg: reg,
		BalanceOf: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "balance_of",
			Help: "Token balance of a wallet, in whole token units",
		}, balance),
		BalanceOfUSD: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "balance_of_usd",
			Help: "Token balance of a wallet valued in USD",
		}, balance),
		PriceInUSD: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "price_in_usd",
			Help: "USD price of one whole token unit",
		}, []string{LabelChain, LabelToken, LabelTokenName}),
		CycleSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "refresh_cycle_seconds",
			Help:      "Duration of a refresh cycle",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "refresh_errors_total",
			Help:      "Chain calls that failed, by chain and operation",
		}, []string{LabelChain, LabelOp}),
		LastCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last refresh cycle finished",
		}),
	}
}

// Registry returns the registry holding the gauges.
func (g *Gauges) Registry() *prometheus.Registry {
	return g.reg
}

// Handler serves the registry in the prometheus text exposition format.
func (g *Gauges) Handler() http.Handler {
	return promhttp.HandlerFor(g.reg, promhttp.HandlerOpts{})
}

// SetBalance sets the balance of a wallet. The USD value is set only if usd > 0 and deleted otherwise.
func (g *Gauges) SetBalance(chain, token, name, wallet string, amount, usd float64) {
	labels := []string{chain, strings.ToLower(token), name, strings.ToLower(wallet)}

	g.BalanceOf.WithLabelValues(labels...).Set(amount)

	if usd > 0 {
		g.BalanceOfUSD.WithLabelValues(labels...).Set(amount * usd)
	} else {
		g.BalanceOfUSD.DeleteLabelValues(labels...)
	}
}

// SetPrice sets the price of a token if usd > 0 and deletes it otherwise.
func (g *Gauges) SetPrice(chain, token, name string, usd float64) {
	labels := []string{chain, strings.ToLower(token), name}

	if usd > 0 {
		g.PriceInUSD.WithLabelValues(labels...).Set(usd)
	} else {
		g.PriceInUSD.DeleteLabelValues(labels...)
	}
}

// DropToken deletes every series of a token and returns how many were deleted.
func (g *Gauges) DropToken(chain, token string) int {
	match := prometheus.Labels{LabelChain: chain, LabelToken: strings.ToLower(token)}

	return g.BalanceOf.DeletePartialMatch(match) + g.BalanceOfUSD.DeletePartialMatch(match) +
		g.PriceInUSD.DeletePartialMatch(match)
}

// Failed counts a failed chain call.
func (g *Gauges) Failed(chain, op string) {
	g.Errors.WithLabelValues(chain, op).Inc()
}
