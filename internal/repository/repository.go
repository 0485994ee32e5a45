package repository

import (
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

const _uniqueViolation = "23505"

// psql is shared by every query builder so SQL can be inspected in tests
// without a live connection.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

const priorityRankExpr = "CASE r.priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 " +
	"WHEN 'normal' THEN 2 WHEN 'low' THEN 1 ELSE 0 END"

type rowScanner interface {
	Scan(dest ...any) error
}

type base struct {
	db pgxdriver.QueryExecuter
}

func (b base) exec(qe pgxdriver.QueryExecuter) pgxdriver.QueryExecuter {
	if qe != nil {
		return qe
	}
	return b.db
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == _uniqueViolation
}
