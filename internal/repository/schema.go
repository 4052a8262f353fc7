package repository

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/widechat/pkg/cassandra"
	"github.com/mbeoliero/widechat/pkg/constant"
)

var (
	reKeyspaceName   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)
	reDataCenterName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.\-]*$`)
)

// Replication describes the keyspace replication strategy
type Replication struct {
	Class       string
	Factor      int
	DataCenters map[string]int
}

// tableDDL holds the CREATE TABLE statements, the first %s is the keyspace
var tableDDL = []struct {
	name string
	ddl  string
}{
	{"users", `CREATE TABLE IF NOT EXISTS %s.users (
		user_id bigint,
		username text,
		created_at timestamp,
		PRIMARY KEY (user_id))`},
	{"conversations", `CREATE TABLE IF NOT EXISTS %s.conversations (
		conversation_id bigint,
		user1_id bigint,
		user2_id bigint,
		created_at timestamp,
		last_message_at timestamp,
		last_message_content text,
		PRIMARY KEY (conversation_id))`},
	{"conversations_by_participants", `CREATE TABLE IF NOT EXISTS %s.conversations_by_participants (
		user_low bigint,
		user_high bigint,
		conversation_id bigint,
		created_at timestamp,
		PRIMARY KEY ((user_low, user_high)))`},
	{"messages", `CREATE TABLE IF NOT EXISTS %s.messages (
		conversation_id bigint,
		timestamp timestamp,
		message_id uuid,
		sender_id bigint,
		receiver_id bigint,
		content text,
		PRIMARY KEY ((conversation_id), timestamp, message_id)
	) WITH CLUSTERING ORDER BY (timestamp DESC, message_id ASC)`},
	{"messages_by_user", `CREATE TABLE IF NOT EXISTS %s.messages_by_user (
		user_id bigint,
		conversation_id bigint,
		timestamp timestamp,
		message_id uuid,
		sender_id bigint,
		receiver_id bigint,
		content text,
		PRIMARY KEY ((user_id), conversation_id, timestamp, message_id)
	) WITH CLUSTERING ORDER BY (conversation_id ASC, timestamp DESC, message_id ASC)`},
	{"conversations_by_user", `CREATE TABLE IF NOT EXISTS %s.conversations_by_user (
		user_id bigint,
		last_message_at timestamp,
		conversation_id bigint,
		other_user_id bigint,
		PRIMARY KEY ((user_id), last_message_at, conversation_id)
	) WITH CLUSTERING ORDER BY (last_message_at DESC, conversation_id ASC)`},
	{"pending_fanouts", `CREATE TABLE IF NOT EXISTS %s.pending_fanouts (
		shard int,
		message_id uuid,
		conversation_id bigint,
		sender_id bigint,
		receiver_id bigint,
		content text,
		timestamp timestamp,
		failed_steps text,
		attempts int,
		last_error text,
		recorded_at timestamp,
		PRIMARY KEY ((shard), message_id))`},
	{"dead_fanouts", `CREATE TABLE IF NOT EXISTS %s.dead_fanouts (
		shard int,
		message_id uuid,
		conversation_id bigint,
		sender_id bigint,
		receiver_id bigint,
		content text,
		timestamp timestamp,
		failed_steps text,
		attempts int,
		last_error text,
		recorded_at timestamp,
		dead_at timestamp,
		PRIMARY KEY ((shard), message_id))`},
}

// TableNames returns the tables EnsureSchema creates, sorted
func TableNames() []string {
	names := make([]string, 0, len(tableDDL))
	for _, t := range tableDDL {
		names = append(names, t.name)
	}
	sort.Strings(names)
	return names
}

// SchemaManager creates the keyspace and tables
type SchemaManager struct {
	session     cassandra.Session
	keyspace    string
	replication Replication
}

// NewSchemaManager creates a new SchemaManager
func NewSchemaManager(session cassandra.Session, keyspace string, replication Replication) *SchemaManager {
	return &SchemaManager{session: session, keyspace: keyspace, replication: replication}
}

// SchemaBootstrap returns a hook that ensures the schema on the bootstrap session
func SchemaBootstrap(keyspace string, replication Replication) cassandra.BootstrapFunc {
	return func(ctx context.Context, s cassandra.Session) error {
		return NewSchemaManager(s, keyspace, replication).EnsureSchema(ctx)
	}
}

// EnsureSchema creates the keyspace and every table if they do not exist.
// Every statement is IF NOT EXISTS, so concurrent and repeated runs are safe.
func (m *SchemaManager) EnsureSchema(ctx context.Context) error {
	keyspaceDDL, err := m.keyspaceDDL()
	if err != nil {
		return err
	}

	if err := m.session.Exec(ctx, keyspaceDDL); err != nil {
		log.CtxError(ctx, "create keyspace failed: keyspace=%s, error=%v", m.keyspace, err)
		return fmt.Errorf("create keyspace %s: %w", m.keyspace, err)
	}

	for _, t := range tableDDL {
		if err := m.session.Exec(ctx, fmt.Sprintf(t.ddl, m.keyspace)); err != nil {
			log.CtxError(ctx, "create table failed: table=%s.%s, error=%v", m.keyspace, t.name, err)
			return fmt.Errorf("create table %s.%s: %w", m.keyspace, t.name, err)
		}
	}

	log.CtxInfo(ctx, "schema ensured: keyspace=%s, tables=%d", m.keyspace, len(tableDDL))
	return nil
}

// Tables lists the tables present in the keyspace, sorted
func (m *SchemaManager) Tables(ctx context.Context) ([]string, error) {
	rows, err := m.session.Query(ctx,
		`SELECT table_name FROM system_schema.tables WHERE keyspace_name = ?`, m.keyspace)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.String("table_name"))
	}
	sort.Strings(names)
	return names, nil
}

// keyspaceDDL builds the CREATE KEYSPACE statement. Identifiers and replication options cannot be
// bound, so everything placed into the statement is validated first.
func (m *SchemaManager) keyspaceDDL() (string, error) {
	if !reKeyspaceName.MatchString(m.keyspace) {
		return "", fmt.Errorf("invalid keyspace name %q", m.keyspace)
	}

	var options string
	switch m.replication.Class {
	case constant.ReplicationSimple:
		if m.replication.Factor < 1 {
			return "", fmt.Errorf("invalid replication factor %d", m.replication.Factor)
		}
		options = fmt.Sprintf("'class': '%s', 'replication_factor': %d", constant.ReplicationSimple, m.replication.Factor)
	case constant.ReplicationNetworkTopology:
		if len(m.replication.DataCenters) == 0 {
			return "", fmt.Errorf("%s requires at least one data center", constant.ReplicationNetworkTopology)
		}
		dcs := make([]string, 0, len(m.replication.DataCenters))
		for dc, factor := range m.replication.DataCenters {
			if !reDataCenterName.MatchString(dc) {
				return "", fmt.Errorf("invalid data center name %q", dc)
			}
			if factor < 1 {
				return "", fmt.Errorf("invalid replication factor %d for data center %s", factor, dc)
			}
			dcs = append(dcs, fmt.Sprintf("'%s': %d", dc, factor))
		}
		sort.Strings(dcs)
		options = fmt.Sprintf("'class': '%s', %s", constant.ReplicationNetworkTopology, strings.Join(dcs, ", "))
	default:
		return "", fmt.Errorf("unsupported replication class %q", m.replication.Class)
	}

	return fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {%s}", m.keyspace, options), nil
}
