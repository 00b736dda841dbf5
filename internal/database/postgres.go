package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrConflict is returned when a conditional update matched no row
	// because the row changed since it was read.
	ErrConflict = errors.New("row was modified concurrently")
	// ErrDuplicate is returned on a unique constraint violation.
	ErrDuplicate = errors.New("duplicate row")
)

const uniqueViolation = "23505"

type PgTraderChatRepository struct {
	conn *sql.DB
}

func NewPgTraderChatRepository(dsn string) (*PgTraderChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgTraderChatRepository{conn: db}, nil
}

func (db *PgTraderChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgTraderChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// translateError maps driver errors onto the package sentinels.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
