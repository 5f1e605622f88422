package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/phuslu/log"
)

const Schema = `CREATE TABLE IF NOT EXISTS credential (
	key        text PRIMARY KEY,
	value      text NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type PgCredStore struct {
	db  DB
	log log.Logger
}

func NewCredStore(db DB) *PgCredStore {
	m := PgCredStore{}
	m.db = db
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "cred_store").Value()
	return &m
}

func (st *PgCredStore) Init(ctx context.Context) error {
	_, err := st.db.Exec(ctx, Schema)
	return err
}

func (st *PgCredStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := st.db.QueryRow(ctx, `SELECT value FROM credential WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	} else if err != nil {
		st.log.Error().Err(err).Str("key", key).Msg("error reading credential")
		return "", err
	}
	return value, nil
}

func (st *PgCredStore) Set(ctx context.Context, key string, value string) error {
	_, err := st.db.Exec(ctx, `INSERT INTO credential (key,value) VALUES ($1,$2)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		st.log.Error().Err(err).Str("key", key).Msg("error saving credential")
	}
	return err
}

func (st *PgCredStore) Delete(ctx context.Context, key string) error {
	_, err := st.db.Exec(ctx, `DELETE FROM credential WHERE key = $1`, key)
	if err != nil {
		st.log.Error().Err(err).Str("key", key).Msg("error deleting credential")
	}
	return err
}
