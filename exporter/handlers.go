package exporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/tarancss/tokenmon/lib/util"
	"github.com/tarancss/tokenmon/monitor/tokenstate"
)

// Errors returned to client requests.
var (
	ErrNoNet = errors.New("network not available")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// reply writes res with the status code matching err.
func reply(rw http.ResponseWriter, r *http.Request, res Response, err error) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")

	if err != nil {
		res.Error = fmt.Sprintf("%s", err)

		rw.WriteHeader(http.StatusBadRequest)
	} else {
		rw.WriteHeader(http.StatusOK)
	}
	// log request
	log.Printf("httpreq from %v %s err:%v\n", r.RemoteAddr, r.RequestURI, err)

	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (e *Exporter) homeHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, Response{Body: "Hello, this is your token balance exporter! Metrics are served at /metrics"}, nil)
}

// networksHandler replies the monitored networks.
func (e *Exporter) networksHandler(rw http.ResponseWriter, r *http.Request) {
	tmp, _ := json.Marshal(e.src.Networks())

	reply(rw, r, Response{Body: string(tmp)}, nil)
}

// tokensHandler replies the state of the tokens of the networks in the query (?net=eth,polygon or ?net=eth&net=polygon),
// or of all networks.
func (e *Exporter) tokensHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		res  Response
		toks []tokenstate.Snapshot
	)

	defer func() {
		reply(rw, r, res, err)
	}()

	// parse request
	if err = r.ParseForm(); err != nil {
		return
	}

	var nets []string

	for _, v := range r.Form["net"] {
		nets = append(nets, util.Split(v)...)
	}

	avail := e.src.Networks()

	for _, net := range nets {
		if !util.In(avail, net) {
			err = fmt.Errorf("%s: %w", net, ErrNoNet)

			return
		}
	}

	toks = e.src.Tokens(nets)

	tmp, _ := json.Marshal(toks)
	res.Body = string(tmp)
}
