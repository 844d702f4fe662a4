package db

import "errors"

// ErrNoRows is returned by Repository lookups that match nothing. The sqlite
// and postgres implementations translate their driver's no-rows error into
// it, so callers never see sql.ErrNoRows or pgx.ErrNoRows.
var ErrNoRows = errors.New("no rows in result set")

// IsNoRows reports whether err is or wraps ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}
