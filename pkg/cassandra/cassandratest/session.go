// Package cassandratest provides an in-memory Session that understands the CQL subset used by
// this module: keyspace/table DDL, INSERT (IF NOT EXISTS), UPDATE (USING TIMESTAMP, IF EXISTS),
// DELETE by primary key, and SELECT with equality/range restrictions, COUNT(*) and paging.
// Rows are returned in partition then clustering order, as declared by CREATE TABLE.
package cassandratest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbeoliero/widechat/pkg/cassandra"
)

// Hook inspects a statement before it runs. A non-nil error fails the statement without applying it.
type Hook func(stmt string, args []interface{}) error

// Session is an in-memory cassandra.Session
type Session struct {
	mu        sync.Mutex
	keyspaces map[string]string
	tables    map[string]*table
	hooks     []Hook
	log       []string
}

var _ cassandra.Session = (*Session)(nil)

// New creates an empty Session
func New() *Session {
	return &Session{
		keyspaces: make(map[string]string),
		tables:    make(map[string]*table),
	}
}

// FailWhen registers a hook consulted before every statement
func (s *Session) FailWhen(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// ClearFailures removes all hooks
func (s *Session) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = nil
}

// Statements returns every statement executed so far, normalized
func (s *Session) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// KeyspaceDDL returns the CREATE KEYSPACE statement that created name
func (s *Session) KeyspaceDDL(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyspaces[strings.ToLower(name)]
}

// Rows returns a copy of every row in a table, in scan order
func (s *Session) Rows(name string) []cassandra.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[bareName(name)]
	if !ok {
		return nil
	}
	rows := t.scan(nil)
	out := make([]cassandra.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, copyRow(r.values))
	}
	return out
}

func (s *Session) Exec(ctx context.Context, stmt string, args ...interface{}) error {
	_, _, err := s.run(ctx, stmt, args)
	return err
}

func (s *Session) ExecCAS(ctx context.Context, stmt string, args ...interface{}) (bool, cassandra.Row, error) {
	res, _, err := s.run(ctx, stmt, args)
	if err != nil {
		return false, nil, err
	}
	if res.existing != nil {
		return false, res.existing, nil
	}
	return res.applied, cassandra.Row{}, nil
}

func (s *Session) Query(ctx context.Context, stmt string, args ...interface{}) ([]cassandra.Row, error) {
	_, rows, err := s.run(ctx, stmt, args)
	return rows, err
}

func (s *Session) QueryPage(ctx context.Context, stmt string, pageSize int, pageState []byte, args ...interface{}) ([]cassandra.Row, []byte, error) {
	res, rows, err := s.run(ctx, stmt, args)
	if err != nil {
		return nil, nil, err
	}
	if res.table == nil {
		return rows, nil, nil
	}

	// Like the real store, the state is the position of the last returned row, so rows
	// written or deleted since the previous page do not shift the next one.
	start := 0
	if len(pageState) > 0 {
		after, err := decodePosition(pageState)
		if err != nil {
			return nil, nil, fmt.Errorf("cassandratest: malformed paging state: %w", err)
		}
		start = len(rows)
		for i, pos := range res.positions {
			if res.table.comparePositions(pos, after) > 0 {
				start = i
				break
			}
		}
	}
	if start >= len(rows) {
		return []cassandra.Row{}, nil, nil
	}
	end := start + pageSize
	if pageSize <= 0 || end > len(rows) {
		end = len(rows)
	}
	var next []byte
	if end < len(rows) {
		if next, err = encodePosition(res.positions[end-1]); err != nil {
			return nil, nil, err
		}
	}
	return rows[start:end], next, nil
}

type result struct {
	applied  bool
	existing cassandra.Row

	// set for table reads, positions parallel to the returned rows
	table     *table
	positions []position
}

func (s *Session) run(ctx context.Context, stmt string, args []interface{}) (result, []cassandra.Row, error) {
	if err := ctx.Err(); err != nil {
		return result{}, nil, err
	}

	stmt = normalize(stmt)
	args = normalizeArgs(args)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.hooks {
		if err := h(stmt, args); err != nil {
			return result{}, nil, err
		}
	}
	s.log = append(s.log, stmt)

	upper := strings.ToUpper(stmt)
	switch {
	case strings.HasPrefix(upper, "CREATE KEYSPACE"):
		return result{applied: true}, nil, s.createKeyspace(stmt)
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return result{applied: true}, nil, s.createTable(stmt)
	case strings.HasPrefix(upper, "INSERT"):
		res, err := s.insert(stmt, args)
		return res, nil, err
	case strings.HasPrefix(upper, "UPDATE"):
		res, err := s.update(stmt, args)
		return res, nil, err
	case strings.HasPrefix(upper, "DELETE"):
		return result{applied: true}, nil, s.delete(stmt, args)
	case strings.HasPrefix(upper, "SELECT"):
		return s.selectRows(stmt, args)
	}
	return result{}, nil, fmt.Errorf("cassandratest: unsupported statement %q", stmt)
}

var (
	reKeyspace = regexp.MustCompile(`(?i)^CREATE KEYSPACE (IF NOT EXISTS )?(\w+) WITH (.+)$`)
	reInsert   = regexp.MustCompile(`(?i)^INSERT INTO ([\w.]+) \((.+?)\) VALUES \((.+?)\)( IF NOT EXISTS)?$`)
	reUpdate   = regexp.MustCompile(`(?i)^UPDATE ([\w.]+)( USING TIMESTAMP \?)? SET (.+?) WHERE (.+?)( IF EXISTS)?$`)
	reDelete   = regexp.MustCompile(`(?i)^DELETE FROM ([\w.]+) WHERE (.+)$`)
	reSelect   = regexp.MustCompile(`(?i)^SELECT (.+?) FROM ([\w.]+)( WHERE (.+?))?( ALLOW FILTERING)?$`)
	reCond     = regexp.MustCompile(`^(\w+)\s*(<=|>=|=|<|>)\s*\?$`)
	reAnd      = regexp.MustCompile(`(?i)\s+AND\s+`)
)

func (s *Session) createKeyspace(stmt string) error {
	m := reKeyspace.FindStringSubmatch(stmt)
	if m == nil {
		return fmt.Errorf("cassandratest: cannot parse %q", stmt)
	}
	name := strings.ToLower(m[2])
	if _, ok := s.keyspaces[name]; ok {
		if m[1] == "" {
			return fmt.Errorf("cassandratest: keyspace %s already exists", name)
		}
		return nil
	}
	if !strings.Contains(m[3], "'class'") {
		return fmt.Errorf("cassandratest: keyspace %s has no replication class", name)
	}
	s.keyspaces[name] = stmt
	return nil
}

func (s *Session) createTable(stmt string) error {
	def, ifNotExists, err := parseTable(stmt)
	if err != nil {
		return err
	}
	if def.keyspace != "" {
		if _, ok := s.keyspaces[def.keyspace]; !ok {
			return fmt.Errorf("cassandratest: keyspace %s does not exist", def.keyspace)
		}
	}
	if _, ok := s.tables[def.name]; ok {
		if !ifNotExists {
			return fmt.Errorf("cassandratest: table %s already exists", def.name)
		}
		return nil
	}
	s.tables[def.name] = def
	return nil
}

func (s *Session) table(name string) (*table, error) {
	t, ok := s.tables[bareName(name)]
	if !ok {
		return nil, fmt.Errorf("cassandratest: unconfigured table %s", name)
	}
	return t, nil
}

func (s *Session) insert(stmt string, args []interface{}) (result, error) {
	m := reInsert.FindStringSubmatch(stmt)
	if m == nil {
		return result{}, fmt.Errorf("cassandratest: cannot parse %q", stmt)
	}
	t, err := s.table(m[1])
	if err != nil {
		return result{}, err
	}
	cols := splitList(m[2])
	if len(cols) != len(args) {
		return result{}, fmt.Errorf("cassandratest: %d columns but %d values", len(cols), len(args))
	}
	values := make(map[string]interface{}, len(cols))
	for i, col := range cols {
		if !t.hasColumn(col) {
			return result{}, fmt.Errorf("cassandratest: undefined column %s in %s", col, t.name)
		}
		values[col] = args[i]
	}
	key, err := t.keyOf(values)
	if err != nil {
		return result{}, err
	}
	if m[4] != "" {
		if existing, ok := t.rows[key]; ok {
			return result{existing: copyRow(existing.values)}, nil
		}
	}
	t.write(key, values, writeTime())
	return result{applied: true}, nil
}

func (s *Session) update(stmt string, args []interface{}) (result, error) {
	m := reUpdate.FindStringSubmatch(stmt)
	if m == nil {
		return result{}, fmt.Errorf("cassandratest: cannot parse %q", stmt)
	}
	t, err := s.table(m[1])
	if err != nil {
		return result{}, err
	}

	ts := writeTime()
	if m[2] != "" {
		if len(args) == 0 {
			return result{}, fmt.Errorf("cassandratest: missing write timestamp")
		}
		v, ok := args[0].(int64)
		if !ok {
			return result{}, fmt.Errorf("cassandratest: write timestamp must be int64, got %T", args[0])
		}
		ts = v
		args = args[1:]
	}

	assignments := splitList(m[3])
	conds, err := parseConds(m[4])
	if err != nil {
		return result{}, err
	}
	if len(assignments)+len(conds) != len(args) {
		return result{}, fmt.Errorf("cassandratest: bind count mismatch in %q", stmt)
	}

	values := make(map[string]interface{})
	for i, a := range assignments {
		cm := reCond.FindStringSubmatch(a)
		if cm == nil || cm[2] != "=" {
			return result{}, fmt.Errorf("cassandratest: cannot parse assignment %q", a)
		}
		if !t.hasColumn(cm[1]) {
			return result{}, fmt.Errorf("cassandratest: undefined column %s in %s", cm[1], t.name)
		}
		if t.isKey(cm[1]) {
			return result{}, fmt.Errorf("cassandratest: cannot update primary key column %s", cm[1])
		}
		values[cm[1]] = args[i]
	}
	args = args[len(assignments):]
	for i, c := range conds {
		if c.op != "=" {
			return result{}, fmt.Errorf("cassandratest: UPDATE requires equality on the primary key")
		}
		values[c.col] = args[i]
	}
	key, err := t.keyOf(values)
	if err != nil {
		return result{}, err
	}
	if m[5] != "" {
		if _, ok := t.rows[key]; !ok {
			return result{applied: false}, nil
		}
	}
	t.write(key, values, ts)
	return result{applied: true}, nil
}

func (s *Session) delete(stmt string, args []interface{}) error {
	m := reDelete.FindStringSubmatch(stmt)
	if m == nil {
		return fmt.Errorf("cassandratest: cannot parse %q", stmt)
	}
	t, err := s.table(m[1])
	if err != nil {
		return err
	}
	conds, err := parseConds(m[2])
	if err != nil {
		return err
	}
	if len(conds) != len(args) {
		return fmt.Errorf("cassandratest: bind count mismatch in %q", stmt)
	}
	values := make(map[string]interface{})
	for i, c := range conds {
		if c.op != "=" {
			return fmt.Errorf("cassandratest: DELETE requires equality on the primary key")
		}
		values[c.col] = args[i]
	}
	key, err := t.keyOf(values)
	if err != nil {
		return err
	}
	delete(t.rows, key)
	return nil
}

func (s *Session) selectRows(stmt string, args []interface{}) (result, []cassandra.Row, error) {
	m := reSelect.FindStringSubmatch(stmt)
	if m == nil {
		return result{}, nil, fmt.Errorf("cassandratest: cannot parse %q", stmt)
	}
	var conds []cond
	if m[4] != "" {
		var err error
		if conds, err = parseConds(m[4]); err != nil {
			return result{}, nil, err
		}
	}
	if len(conds) != len(args) {
		return result{}, nil, fmt.Errorf("cassandratest: bind count mismatch in %q", stmt)
	}
	for i := range conds {
		conds[i].value = args[i]
	}

	if strings.EqualFold(m[2], "system_schema.tables") {
		return result{}, s.systemTables(conds), nil
	}

	t, err := s.table(m[2])
	if err != nil {
		return result{}, nil, err
	}
	if m[5] == "" {
		if err := t.checkRestrictions(conds); err != nil {
			return result{}, nil, err
		}
	}

	matched := t.scan(conds)
	projection := strings.TrimSpace(m[1])
	if strings.EqualFold(projection, "COUNT(*)") {
		return result{}, []cassandra.Row{{"count": int64(len(matched))}}, nil
	}

	cols := splitList(projection)
	res := result{table: t, positions: make([]position, 0, len(matched))}
	out := make([]cassandra.Row, 0, len(matched))
	for _, r := range matched {
		res.positions = append(res.positions, t.positionOf(r))
		if projection == "*" {
			out = append(out, copyRow(r.values))
			continue
		}
		row := make(cassandra.Row, len(cols))
		for _, c := range cols {
			if !t.hasColumn(c) {
				return result{}, nil, fmt.Errorf("cassandratest: undefined column %s in %s", c, t.name)
			}
			row[c] = r.values[c]
		}
		out = append(out, row)
	}
	return res, out, nil
}

func (s *Session) systemTables(conds []cond) []cassandra.Row {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []cassandra.Row
	for _, name := range names {
		row := cassandra.Row{"keyspace_name": s.tables[name].keyspace, "table_name": name}
		keep := true
		for _, c := range conds {
			if c.op != "=" || compare(row[c.col], c.value) != 0 {
				keep = false
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out
}

func normalize(stmt string) string {
	stmt = strings.Join(strings.Fields(stmt), " ")
	return strings.TrimSuffix(stmt, ";")
}

// normalizeArgs applies the store's storage precision: timestamps keep milliseconds in UTC.
func normalizeArgs(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case time.Time:
			out[i] = v.UTC().Truncate(time.Millisecond)
		case int:
			out[i] = int64(v)
		case int32:
			out[i] = int64(v)
		default:
			out[i] = a
		}
	}
	return out
}

func writeTime() int64 {
	return time.Now().UnixMicro()
}

func bareName(name string) string {
	name = strings.ToLower(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func copyRow(r map[string]interface{}) cassandra.Row {
	out := make(cassandra.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
