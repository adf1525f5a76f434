// Package mongo implements the archive interface for MongoDB. Prices and balances go to the "prices" and "balances"
// databases, one collection per network.
package mongo

import (
	"context"
	"fmt"
	"time"

	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/tokenmon/lib/block/types"
)

// Database names.
const (
	PRICES   = "prices"
	BALANCES = "balances"
)

const timeout = 5 * time.Second

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// SavePrices appends the prices to the network collection of the prices database.
func (m *Mongo) SavePrices(net string, p []types.Price) error {
	docs := make([]interface{}, len(p))
	for i := range p {
		docs[i] = p[i]
	}

	return m.insert(PRICES, net, docs)
}

// SaveBalances appends the balances to the network collection of the balances database.
func (m *Mongo) SaveBalances(net string, b []types.Balance) error {
	docs := make([]interface{}, len(b))
	for i := range b {
		docs[i] = b[i]
	}

	return m.insert(BALANCES, net, docs)
}

func (m *Mongo) insert(db, net string, docs []interface{}) error {
	if len(docs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := m.c.Database(db).Collection(net).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("could not insert %d %s in db: %w", len(docs), db, err)
	}

	return nil
}
