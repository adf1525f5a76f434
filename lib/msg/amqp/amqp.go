// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/streadway/amqp"

	"github.com/tarancss/tokenmon/lib/block/types"
)

// EXCHANGE is the topic exchange prices are published to. The routing key is "<net>.price.<token>".
const EXCHANGE = "pu"

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	l    sync.Mutex // protects ch, publishing chains share it
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (*Amqp, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("amqp: cannot connect: %w", err)
	}

	log.Printf("Connected to message broker")

	return &Amqp{conn: conn}, nil
}

// Setup obtains an amqp channel and declares the message broker exchange:
//
// - pu ("price updates"): the monitor publishes the resolved prices to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(EXCHANGE, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.l.Lock()
	defer r.l.Unlock()

	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%v", err)
		}

		r.ch = nil
	}

	return r.conn.Close()
}

// SendPrices publishes every price to the "pu" exchange. A failed publish drops the channel so the next call opens a
// new one.
func (r *Amqp) SendPrices(net string, ps []types.Price) (err error) {
	r.l.Lock()
	defer r.l.Unlock()

	for _, p := range ps {
		// marshal to JSON
		var jsonDoc []byte
		if jsonDoc, err = json.Marshal(p); err != nil {
			return
		}
		// obtain channel if not present
		if r.ch == nil {
			if r.ch, err = r.conn.Channel(); err != nil {
				return
			}
		}
		// build body
		msg := amqp.Publishing{
			Headers:     amqp.Table{"x-price-name": net + "." + p.Token},
			Body:        jsonDoc,
			ContentType: "application/json",
			Timestamp:   p.TS,
		}
		// publish
		if err = r.ch.Publish(EXCHANGE, RoutingKey(net, p.Token), false, false, msg); err != nil {
			log.Printf("[%s] Error sending price to message broker %v", net, err)
			r.ch = nil

			return
		}
	}

	return
}

// RoutingKey returns the routing key of the prices of token in network net.
func RoutingKey(net, token string) string {
	return net + ".price." + strings.ToLower(token)
}
