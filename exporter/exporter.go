// Package exporter implements the http service of tokenmon: the prometheus scrape endpoint and a small JSON API over
// the cached token state. Requests never reach the chains, they are served from what the last refresh cycles stored.
package exporter

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/tarancss/tokenmon/lib/metrics"
	"github.com/tarancss/tokenmon/monitor/tokenstate"
)

// Source gives access to the monitored networks and tokens.
type Source interface {
	Networks() []string
	Tokens(nets []string) []tokenstate.Snapshot
}

// Exporter contains the data necessary to deliver the service
type Exporter struct {
	src Source
	g   *metrics.Gauges

	l    sync.Mutex    // protects s
	s    *http.Server  // http server
	sc   chan struct{} // http server channel used for graceful shutdowns
	once sync.Once
}

// New returns a pointer to a new Exporter service
func New(src Source, g *metrics.Gauges) *Exporter {
	return &Exporter{
		src: src,
		g:   g,
		sc:  make(chan struct{}),
	}
}

// Stop shuts down the http server, making Init return.
func (e *Exporter) Stop() {
	e.once.Do(func() {
		e.l.Lock()
		s := e.s
		e.l.Unlock()

		if s != nil {
			if err := s.Shutdown(context.Background()); err != nil {
				log.Printf("Error in http server shutdown:%v", err)
			}
		}

		close(e.sc) // close server channel to indicate shutdown has finished
	})
}
