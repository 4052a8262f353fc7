package cassandratest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTimeline(t *testing.T) *Session {
	t.Helper()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Exec(ctx, `CREATE KEYSPACE IF NOT EXISTS ks WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`))
	require.NoError(t, s.Exec(ctx, `CREATE TABLE IF NOT EXISTS ks.timeline (
		owner bigint,
		at timestamp,
		seq bigint,
		body text,
		PRIMARY KEY ((owner), at, seq)
	) WITH CLUSTERING ORDER BY (at DESC, seq ASC)`))
	return s
}

func TestSession_ClusteringOrder(t *testing.T) {
	s := newTimeline(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Exec(ctx, `INSERT INTO ks.timeline (owner, at, seq, body) VALUES (?, ?, ?, ?)`,
			int64(1), base.Add(time.Duration(i)*time.Second), int64(i), "row"))
	}
	require.NoError(t, s.Exec(ctx, `INSERT INTO ks.timeline (owner, at, seq, body) VALUES (?, ?, ?, ?)`,
		int64(2), base, int64(0), "other"))

	rows, err := s.Query(ctx, `SELECT * FROM timeline WHERE owner = ?`, int64(1))
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i, row := range rows {
		assert.Equal(t, int64(4-i), row.Int64("seq"))
	}

	rows, err = s.Query(ctx, `SELECT seq FROM timeline WHERE owner = ? AND at < ?`, int64(1), base.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].Int64("seq"))
	assert.Equal(t, int64(0), rows[1].Int64("seq"))

	count, err := s.Query(ctx, `SELECT COUNT(*) FROM timeline WHERE owner = ?`, int64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(5), count[0].Int64("count"))
}

func TestSession_QueryPage(t *testing.T) {
	s := newTimeline(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		require.NoError(t, s.Exec(ctx, `INSERT INTO timeline (owner, at, seq, body) VALUES (?, ?, ?, ?)`,
			int64(1), base.Add(time.Duration(i)*time.Second), int64(i), "row"))
	}

	var (
		seen  []int64
		state []byte
	)
	for {
		rows, next, err := s.QueryPage(ctx, `SELECT * FROM timeline WHERE owner = ?`, 3, state, int64(1))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(rows), 3)
		for _, row := range rows {
			seen = append(seen, row.Int64("seq"))
		}
		if len(next) == 0 {
			break
		}
		state = next
	}
	assert.Equal(t, []int64{6, 5, 4, 3, 2, 1, 0}, seen)
}

func TestSession_QueryPageResumesAfterLastRow(t *testing.T) {
	s := newTimeline(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	insert := `INSERT INTO timeline (owner, at, seq, body) VALUES (?, ?, ?, ?)`
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Exec(ctx, insert, int64(1), base.Add(time.Duration(i)*time.Second), int64(i), "row"))
	}

	first, state, err := s.QueryPage(ctx, `SELECT seq FROM timeline WHERE owner = ?`, 2, nil, int64(1))
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(4), first[1].Int64("seq"))
	require.NotEmpty(t, state)

	// a row sorting ahead of the page and the page's own last row change nothing after it
	require.NoError(t, s.Exec(ctx, insert, int64(1), base.Add(time.Minute), int64(9), "newer"))
	require.NoError(t, s.Exec(ctx, `DELETE FROM timeline WHERE owner = ? AND at = ? AND seq = ?`,
		int64(1), base.Add(4*time.Second), int64(4)))

	rows, next, err := s.QueryPage(ctx, `SELECT seq FROM timeline WHERE owner = ?`, 2, state, int64(1))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].Int64("seq"))
	assert.Equal(t, int64(2), rows[1].Int64("seq"))

	rows, next, err = s.QueryPage(ctx, `SELECT seq FROM timeline WHERE owner = ?`, 2, next, int64(1))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[1].Int64("seq"))
	assert.Empty(t, next)

	_, _, err = s.QueryPage(ctx, `SELECT seq FROM timeline WHERE owner = ?`, 2, []byte{0, 0, 0, 2}, int64(1))
	assert.Error(t, err)
}

func TestSession_Restrictions(t *testing.T) {
	s := newTimeline(t)
	ctx := context.Background()

	t.Run("non-key column needs allow filtering", func(t *testing.T) {
		_, err := s.Query(ctx, `SELECT * FROM timeline WHERE body = ?`, "row")
		require.Error(t, err)

		_, err = s.Query(ctx, `SELECT * FROM timeline WHERE body = ? ALLOW FILTERING`, "row")
		require.NoError(t, err)
	})

	t.Run("partition key must be restricted", func(t *testing.T) {
		_, err := s.Query(ctx, `SELECT * FROM timeline WHERE seq = ?`, int64(1))
		require.Error(t, err)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := s.Query(ctx, `SELECT * FROM missing WHERE owner = ?`, int64(1))
		require.Error(t, err)
	})
}

func TestSession_LightweightTransactions(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Exec(ctx, `CREATE TABLE pairs (a bigint, b bigint, id bigint, PRIMARY KEY ((a, b)))`))

	applied, _, err := s.ExecCAS(ctx, `INSERT INTO pairs (a, b, id) VALUES (?, ?, ?) IF NOT EXISTS`, int64(1), int64(2), int64(10))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, existing, err := s.ExecCAS(ctx, `INSERT INTO pairs (a, b, id) VALUES (?, ?, ?) IF NOT EXISTS`, int64(1), int64(2), int64(20))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(10), existing.Int64("id"))

	applied, _, err = s.ExecCAS(ctx, `UPDATE pairs SET id = ? WHERE a = ? AND b = ? IF EXISTS`, int64(30), int64(5), int64(6))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSession_WriteTimestamp(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Exec(ctx, `CREATE TABLE latest (k bigint, v text, PRIMARY KEY (k))`))

	require.NoError(t, s.Exec(ctx, `UPDATE latest USING TIMESTAMP ? SET v = ? WHERE k = ?`, int64(200), "newer", int64(1)))
	require.NoError(t, s.Exec(ctx, `UPDATE latest USING TIMESTAMP ? SET v = ? WHERE k = ?`, int64(100), "older", int64(1)))

	rows, err := s.Query(ctx, `SELECT v FROM latest WHERE k = ?`, int64(1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "newer", rows[0].String("v"))
}

func TestSession_FailWhen(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Exec(ctx, `CREATE TABLE kv (k bigint, v text, PRIMARY KEY (k))`))

	boom := errors.New("boom")
	s.FailWhen(func(stmt string, args []interface{}) error {
		if strings.HasPrefix(stmt, "INSERT") {
			return boom
		}
		return nil
	})
	err := s.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, int64(1), "x")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Rows("kv"))

	s.ClearFailures()
	require.NoError(t, s.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, int64(1), "x"))
	assert.Len(t, s.Rows("kv"), 1)
}

func TestSession_Keyspace(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.Error(t, s.Exec(ctx, `CREATE TABLE nowhere.t (k bigint, PRIMARY KEY (k))`))
	require.Error(t, s.Exec(ctx, `CREATE KEYSPACE ks WITH durable_writes = true`))

	ddl := `CREATE KEYSPACE IF NOT EXISTS ks WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 3}`
	require.NoError(t, s.Exec(ctx, ddl))
	require.NoError(t, s.Exec(ctx, ddl))
	assert.Contains(t, s.KeyspaceDDL("ks"), "'replication_factor': 3")

	require.NoError(t, s.Exec(ctx, `CREATE TABLE IF NOT EXISTS ks.b (k bigint, PRIMARY KEY (k))`))
	require.NoError(t, s.Exec(ctx, `CREATE TABLE IF NOT EXISTS ks.a (k bigint, PRIMARY KEY (k))`))
	require.Error(t, s.Exec(ctx, `CREATE TABLE ks.a (k bigint, PRIMARY KEY (k))`))

	rows, err := s.Query(ctx, `SELECT table_name FROM system_schema.tables WHERE keyspace_name = ?`, "ks")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].String("table_name"))
	assert.Equal(t, "b", rows[1].String("table_name"))
}
