package cassandra

import (
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// Row is one result row keyed by column name
type Row map[string]interface{}

// Int64 returns an integer column, widening int and int32 values
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	}
	return 0
}

// String returns a text column; null reads as the empty string
func (r Row) String(col string) string {
	if v, ok := r[col].(string); ok {
		return v
	}
	return ""
}

// Time returns a timestamp column in UTC; null reads as the zero time
func (r Row) Time(col string) time.Time {
	if v, ok := r[col].(time.Time); ok && !v.IsZero() {
		return v.UTC()
	}
	return time.Time{}
}

// UUID returns a uuid column
func (r Row) UUID(col string) uuid.UUID {
	switch v := r[col].(type) {
	case gocql.UUID:
		return uuid.UUID(v)
	case uuid.UUID:
		return v
	case [16]byte:
		return v
	}
	return uuid.Nil
}

// UUID converts id to the driver's uuid type for binding
func UUID(id uuid.UUID) gocql.UUID {
	return gocql.UUID(id)
}
