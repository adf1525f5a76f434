// Package msg defines the interface for different message brokers. Brokers fan out the prices resolved in every
// refresh cycle to other services.
package msg

import (
	"errors"

	"github.com/tarancss/tokenmon/lib/block/types"
)

// Broker types.
const (
	AMQP = "amqp"
)

// Errors returned
var (
	ErrNoBroker = errors.New("msg: unknown broker type")
)

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// SendPrices publishes the prices of network net.
	SendPrices(net string, p []types.Price) error
}
