package exporter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Router returns the http API:
//
// - GET /metrics: prometheus text exposition of the gauges
//
// - GET /networks: monitored blockchains
//
// - GET /tokens?net=<blockchain>[,<blockchain>]: state of the tokens of all or some blockchains
func (e *Exporter) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", e.homeHandler)
	r.Handle("/metrics", e.g.Handler()).Methods("GET")
	r.HandleFunc("/networks", e.networksHandler).Methods("GET")
	r.HandleFunc("/tokens", e.tokensHandler).Methods("GET")

	return r
}

// Init starts the http server on endpoint:port and waits until Stop is called. It returns earlier with the error
// of the server if it cannot listen or stops serving.
func (e *Exporter) Init(endpoint, port string) error {
	var err error

	s := &http.Server{
		Handler: e.Router(),
		Addr:    endpoint + ":" + port,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: timeout * time.Second,
		ReadTimeout:  timeout * time.Second,
	}

	e.l.Lock()
	e.s = s
	e.l.Unlock()

	done := make(chan struct{})

	go func() {
		err = s.ListenAndServe()
		close(done)
	}()

	log.Printf("Listening to http requests on %s:%s", endpoint, port)

	// wait for server to be shutdown, Stop may have run before s was set
	select {
	case <-e.sc:
		_ = s.Shutdown(context.Background())
		<-done
	case <-done:
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return fmt.Errorf("http server on %s:%s: %w", endpoint, port, err)
}
