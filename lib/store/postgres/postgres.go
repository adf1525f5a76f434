// Package postgres implements the archive interface for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/tarancss/tokenmon/lib/block/types"
)

const timeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS prices (
	net      TEXT NOT NULL,
	token    TEXT NOT NULL,
	name     TEXT NOT NULL,
	decimals SMALLINT NOT NULL,
	usd      DOUBLE PRECISION NOT NULL,
	ts       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS balances (
	net    TEXT NOT NULL,
	token  TEXT NOT NULL,
	name   TEXT NOT NULL,
	wallet TEXT NOT NULL,
	raw    NUMERIC(78, 0) NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	usd    DOUBLE PRECISION NOT NULL,
	ts     TIMESTAMPTZ NOT NULL
);`

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the archive tables
// if missing.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err = db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create archive tables: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// SavePrices inserts the prices in a single transaction.
func (p *Postgres) SavePrices(net string, ps []types.Price) error {
	return p.insert(len(ps), `INSERT INTO prices (net, token, name, decimals, usd, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		func(i int) []interface{} {
			x := ps[i]

			return []interface{}{net, x.Token, x.Name, int(x.Decimals), x.USD, x.TS}
		})
}

// SaveBalances inserts the balances in a single transaction.
func (p *Postgres) SaveBalances(net string, bs []types.Balance) error {
	return p.insert(len(bs),
		`INSERT INTO balances (net, token, name, wallet, raw, amount, usd, ts) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		func(i int) []interface{} {
			x := bs[i]

			return []interface{}{net, x.Token, x.Name, x.Wallet, x.Raw, x.Amount, x.USD, x.TS}
		})
}

// insert runs query n times with the arguments returned by args.
func (p *Postgres) insert(n int, query string, args func(int) []interface{}) (err error) {
	if n == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("postgres: prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err = stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("postgres: insert: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}

	return nil
}
