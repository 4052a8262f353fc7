package cassandratest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

var (
	reTable         = regexp.MustCompile(`(?i)^CREATE TABLE (IF NOT EXISTS )?([\w.]+) \((.+)\)$`)
	rePrimaryKey    = regexp.MustCompile(`(?i)^PRIMARY KEY \((.+)\)$`)
	reClusteringOrd = regexp.MustCompile(`(?i)^CLUSTERING ORDER BY \((.+)\)$`)
)

type clusteringColumn struct {
	name string
	desc bool
}

type storedRow struct {
	partition string
	values    map[string]interface{}
	writeTime map[string]int64
}

type table struct {
	keyspace   string
	name       string
	columns    map[string]string
	partition  []string
	clustering []clusteringColumn
	rows       map[string]*storedRow
}

type cond struct {
	col   string
	op    string
	value interface{}
}

func parseTable(stmt string) (*table, bool, error) {
	body := stmt
	options := ""
	if i := strings.Index(strings.ToUpper(stmt), ") WITH "); i >= 0 {
		body = stmt[:i+1]
		options = strings.TrimSpace(stmt[i+len(") WITH "):])
	}

	m := reTable.FindStringSubmatch(body)
	if m == nil {
		return nil, false, fmt.Errorf("cassandratest: cannot parse %q", stmt)
	}

	t := &table{
		name:    bareName(m[2]),
		columns: make(map[string]string),
		rows:    make(map[string]*storedRow),
	}
	if i := strings.LastIndex(m[2], "."); i >= 0 {
		t.keyspace = strings.ToLower(m[2][:i])
	}

	for _, part := range splitTopLevel(m[3]) {
		if pk := rePrimaryKey.FindStringSubmatch(part); pk != nil {
			if err := t.parsePrimaryKey(pk[1]); err != nil {
				return nil, false, err
			}
			continue
		}
		fields := strings.Fields(part)
		if len(fields) < 2 {
			return nil, false, fmt.Errorf("cassandratest: bad column definition %q", part)
		}
		t.columns[strings.ToLower(fields[0])] = strings.ToLower(fields[1])
	}
	if len(t.partition) == 0 {
		return nil, false, fmt.Errorf("cassandratest: table %s has no primary key", t.name)
	}

	if options != "" {
		co := reClusteringOrd.FindStringSubmatch(options)
		if co == nil {
			return nil, false, fmt.Errorf("cassandratest: unsupported table options %q", options)
		}
		for _, item := range splitList(co[1]) {
			fields := strings.Fields(item)
			found := false
			for i := range t.clustering {
				if t.clustering[i].name == strings.ToLower(fields[0]) {
					t.clustering[i].desc = len(fields) > 1 && strings.EqualFold(fields[1], "DESC")
					found = true
				}
			}
			if !found {
				return nil, false, fmt.Errorf("cassandratest: %s is not a clustering column", fields[0])
			}
		}
	}
	return t, m[1] != "", nil
}

func (t *table) parsePrimaryKey(spec string) error {
	spec = strings.TrimSpace(spec)
	var rest string
	if strings.HasPrefix(spec, "(") {
		end := strings.Index(spec, ")")
		if end < 0 {
			return fmt.Errorf("cassandratest: bad primary key %q", spec)
		}
		for _, c := range splitList(spec[1:end]) {
			t.partition = append(t.partition, strings.ToLower(c))
		}
		rest = strings.TrimPrefix(strings.TrimSpace(spec[end+1:]), ",")
	} else {
		cols := splitList(spec)
		t.partition = []string{strings.ToLower(cols[0])}
		rest = strings.Join(cols[1:], ",")
	}
	for _, c := range splitList(rest) {
		t.clustering = append(t.clustering, clusteringColumn{name: strings.ToLower(c)})
	}
	for _, c := range t.keyColumns() {
		if _, ok := t.columns[c]; !ok {
			return fmt.Errorf("cassandratest: key column %s is not defined", c)
		}
	}
	return nil
}

func (t *table) keyColumns() []string {
	cols := append([]string(nil), t.partition...)
	for _, c := range t.clustering {
		cols = append(cols, c.name)
	}
	return cols
}

func (t *table) hasColumn(col string) bool {
	_, ok := t.columns[strings.ToLower(col)]
	return ok
}

func (t *table) isKey(col string) bool {
	for _, c := range t.keyColumns() {
		if c == strings.ToLower(col) {
			return true
		}
	}
	return false
}

func (t *table) keyOf(values map[string]interface{}) (string, error) {
	parts := make([]string, 0, len(t.partition)+len(t.clustering))
	for _, c := range t.keyColumns() {
		v, ok := values[c]
		if !ok || v == nil {
			return "", fmt.Errorf("cassandratest: missing primary key column %s for %s", c, t.name)
		}
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, "\x00"), nil
}

func (t *table) partitionOf(values map[string]interface{}) string {
	parts := make([]string, 0, len(t.partition))
	for _, c := range t.partition {
		parts = append(parts, fmt.Sprintf("%v", values[c]))
	}
	return strings.Join(parts, "\x00")
}

// write applies values with last-write-wins per cell
func (t *table) write(key string, values map[string]interface{}, ts int64) {
	row, ok := t.rows[key]
	if !ok {
		row = &storedRow{
			partition: t.partitionOf(values),
			values:    make(map[string]interface{}),
			writeTime: make(map[string]int64),
		}
		t.rows[key] = row
	}
	for col, v := range values {
		if prev, ok := row.writeTime[col]; ok && prev > ts {
			continue
		}
		row.values[col] = v
		row.writeTime[col] = ts
	}
}

// checkRestrictions rejects what a real node would reject without ALLOW FILTERING
func (t *table) checkRestrictions(conds []cond) error {
	restricted := make(map[string]bool)
	for _, c := range conds {
		restricted[c.col] = true
		switch {
		case t.isPartition(c.col):
			if c.op != "=" {
				return fmt.Errorf("cassandratest: only equality is supported on partition key %s", c.col)
			}
		case t.isKey(c.col):
		default:
			return fmt.Errorf("cassandratest: restricting non-key column %s requires ALLOW FILTERING", c.col)
		}
	}
	if len(conds) == 0 {
		return nil
	}
	for _, p := range t.partition {
		if !restricted[p] {
			return fmt.Errorf("cassandratest: partition key %s must be restricted", p)
		}
	}
	return nil
}

func (t *table) isPartition(col string) bool {
	for _, p := range t.partition {
		if p == col {
			return true
		}
	}
	return false
}

// scan returns matching rows ordered by partition, then by the declared clustering order
func (t *table) scan(conds []cond) []*storedRow {
	var out []*storedRow
	for _, r := range t.rows {
		if matches(r.values, conds) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return t.comparePositions(t.positionOf(out[i]), t.positionOf(out[j])) < 0
	})
	return out
}

// position is where a row sits in scan order: its partition, then its clustering values
type position struct {
	partition  string
	clustering []interface{}
}

func (t *table) positionOf(r *storedRow) position {
	pos := position{partition: r.partition, clustering: make([]interface{}, 0, len(t.clustering))}
	for _, c := range t.clustering {
		pos.clustering = append(pos.clustering, r.values[c.name])
	}
	return pos
}

// comparePositions orders positions the way scan returns rows
func (t *table) comparePositions(a, b position) int {
	if a.partition != b.partition {
		return strings.Compare(a.partition, b.partition)
	}
	for i, c := range t.clustering {
		if i >= len(a.clustering) || i >= len(b.clustering) {
			break
		}
		cmp := compare(a.clustering[i], b.clustering[i])
		if cmp == 0 {
			continue
		}
		if c.desc {
			return -cmp
		}
		return cmp
	}
	return 0
}

type positionValue struct {
	Int  *int64     `json:"i,omitempty"`
	Time *time.Time `json:"t,omitempty"`
	UUID []byte     `json:"u,omitempty"`
	Str  *string    `json:"s,omitempty"`
}

type encodedPosition struct {
	Partition  string          `json:"p"`
	Clustering []positionValue `json:"c"`
}

func encodePosition(pos position) ([]byte, error) {
	enc := encodedPosition{Partition: pos.partition}
	for _, v := range pos.clustering {
		var pv positionValue
		switch x := v.(type) {
		case int64:
			pv.Int = &x
		case time.Time:
			pv.Time = &x
		case gocql.UUID:
			pv.UUID = x[:]
		case uuid.UUID:
			pv.UUID = x[:]
		case string:
			pv.Str = &x
		default:
			return nil, fmt.Errorf("cassandratest: cannot page on clustering value of type %T", v)
		}
		enc.Clustering = append(enc.Clustering, pv)
	}
	return json.Marshal(enc)
}

func decodePosition(data []byte) (position, error) {
	var enc encodedPosition
	if err := json.Unmarshal(data, &enc); err != nil {
		return position{}, err
	}
	pos := position{partition: enc.Partition}
	for _, pv := range enc.Clustering {
		switch {
		case pv.Int != nil:
			pos.clustering = append(pos.clustering, *pv.Int)
		case pv.Time != nil:
			pos.clustering = append(pos.clustering, pv.Time.UTC())
		case len(pv.UUID) == 16:
			var id gocql.UUID
			copy(id[:], pv.UUID)
			pos.clustering = append(pos.clustering, id)
		case pv.Str != nil:
			pos.clustering = append(pos.clustering, *pv.Str)
		default:
			return position{}, fmt.Errorf("empty clustering value")
		}
	}
	return pos, nil
}

func matches(values map[string]interface{}, conds []cond) bool {
	for _, c := range conds {
		v, ok := values[c.col]
		if !ok || v == nil {
			return false
		}
		cmp := compare(v, c.value)
		switch c.op {
		case "=":
			if cmp != 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case ">=":
			if cmp < 0 {
				return false
			}
		}
	}
	return true
}

func parseConds(where string) ([]cond, error) {
	var conds []cond
	for _, part := range reAnd.Split(strings.TrimSpace(where), -1) {
		m := reCond.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			return nil, fmt.Errorf("cassandratest: cannot parse condition %q", part)
		}
		conds = append(conds, cond{col: strings.ToLower(m[1]), op: m[2]})
	}
	return conds, nil
}

func compare(a, b interface{}) int {
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case gocql.UUID:
		if bv, ok := b.(gocql.UUID); ok {
			return bytes.Compare(av[:], bv[:])
		}
	case uuid.UUID:
		if bv, ok := b.(uuid.UUID); ok {
			return bytes.Compare(av[:], bv[:])
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
