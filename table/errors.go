package table

import (
	"errors"
)

var (
	ErrDuplicateKey     = errors.New("table: duplicate primary key")
	ErrKeyNotFound      = errors.New("table: key not found")
	ErrColumnNotIndexed = errors.New("table: column not indexed")
	ErrRecordNotFound   = errors.New("table: record not found")
	ErrRecordDeleted    = errors.New("table: record deleted")
	ErrColumnCount      = errors.New("table: wrong number of columns")
	ErrNoVersion        = errors.New("table: record has no newer version")
)

// Missing reports whether err means the record is absent or deleted; these are the
// errors sum treats as a zero contribution.
func Missing(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrRecordDeleted)
}
