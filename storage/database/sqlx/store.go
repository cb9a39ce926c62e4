package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is the Postgres lifecycle store.
type Store struct {
	db *sqlx.DB
	repo
}

// repo runs queries against the pool or, inside RunInTx, against a transaction.
type repo struct {
	q    sqlx.ExtContext
	inTx bool
}

var (
	_ lifecycle.Store      = (*Store)(nil)
	_ lifecycle.Repository = (*repo)(nil)
)

func NewStore(db *sql.DB) *Store {
	xdb := sqlx.NewDb(db, "postgres")
	return &Store{db: xdb, repo: repo{q: xdb}}
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx lifecycle.Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&repo{q: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back transaction (%v)", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// forUpdate locks the selected rows of `table` until commit, inside transactions only.
func (r *repo) forUpdate(table string) string {
	if !r.inTx {
		return ""
	}
	return " FOR UPDATE OF " + table
}

func (r *repo) get(ctx context.Context, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.GetContext(ctx, r.q, dest, query, args...)
}

func (r *repo) selectAll(ctx context.Context, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.SelectContext(ctx, r.q, dest, query, args...)
}

func (r *repo) exists(ctx context.Context, table string, id int64) (bool, error) {
	var exists bool
	q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table)
	if err := sqlx.GetContext(ctx, r.q, &exists, q, id); err != nil {
		return false, errors.Wrapf(err, "checking %s %d", table, id)
	}
	return exists, nil
}

func trapNoRowsErr(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(lifecycle.ErrNotFound, "%s %d", what, id)
	}
	return err
}

func trapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Wrap(lifecycle.ErrAlreadyExists, pqErr.Constraint)
	}
	return err
}

func mustAffectOne(res sql.Result, err error, what string, id int64) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return errors.Wrapf(lifecycle.ErrNotFound, "%s %d", what, id)
	}
	return nil
}
