package repository

import (
	"context"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/widechat/internal/config"
	"github.com/mbeoliero/widechat/pkg/cassandra"
	"github.com/mbeoliero/widechat/pkg/idgen"
	"github.com/redis/go-redis/v9"
)

// Repositories holds all repositories
type Repositories struct {
	Session      cassandra.Session
	Cassandra    *cassandra.Client
	Redis        *redis.Client
	Schema       *SchemaManager
	Pager        *Pager
	Conversation *ConversationRepo
	Message      *MessageRepo
	Pending      *PendingRepo
	Idempotency  *IdempotencyRepo
}

// NewRepositories creates all repositories. The cassandra session connects lazily; call
// CheckConnection to connect eagerly.
func NewRepositories(cfg *config.Config) (*Repositories, error) {
	ids, err := idgen.NewSonyflakeGenerator(cfg.IdGen.MachineId)
	if err != nil {
		return nil, err
	}

	// Initialize Cassandra
	var bootstrap cassandra.BootstrapFunc
	if cfg.Cassandra.AutoMigrate {
		bootstrap = SchemaBootstrap(cfg.Cassandra.Keyspace, replicationOf(cfg))
	}
	client := cassandra.NewClient(cassandraOptions(cfg), bootstrap)

	// Initialize Redis
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = initRedis(cfg)
	}

	repos := NewRepositoriesWithSession(client, rdb, ids, cfg)
	repos.Cassandra = client
	return repos, nil
}

// NewRepositoriesWithSession creates all repositories on an existing session. rdb may be nil.
func NewRepositoriesWithSession(session cassandra.Session, rdb *redis.Client, ids idgen.IDGenerator, cfg *config.Config) *Repositories {
	pager := NewPager(session,
		NewPageStateCache(rdb, cfg.Pagination.PageStateTTL),
		cfg.Pagination.DefaultPageSize, cfg.Pagination.MaxPageSize)

	return &Repositories{
		Session:      session,
		Redis:        rdb,
		Schema:       NewSchemaManager(session, cfg.Cassandra.Keyspace, replicationOf(cfg)),
		Pager:        pager,
		Conversation: NewConversationRepo(session, ids, pager),
		Message:      NewMessageRepo(session, pager),
		Pending:      NewPendingRepo(session, cfg.Reconcile.Shards),
		Idempotency:  NewIdempotencyRepo(rdb, cfg.Redis.IdempotencyTTL),
	}
}

func cassandraOptions(cfg *config.Config) cassandra.Options {
	c := cfg.Cassandra
	return cassandra.Options{
		Hosts:          c.Hosts,
		Port:           c.Port,
		Keyspace:       c.Keyspace,
		Username:       c.Username,
		Password:       c.Password,
		Consistency:    c.Consistency,
		Timeout:        c.Timeout,
		ConnectTimeout: c.ConnectTimeout,
		NumConns:       c.NumConns,
		ConnectRetries: c.ConnectRetries,
		ConnectBackoff: c.ConnectBackoff,
	}
}

func replicationOf(cfg *config.Config) Replication {
	return Replication{
		Class:       cfg.Cassandra.Replication.Class,
		Factor:      cfg.Cassandra.Replication.Factor,
		DataCenters: cfg.Cassandra.Replication.DataCenters,
	}
}

// initRedis initializes Redis connection
func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// Close closes all connections
func (r *Repositories) Close() error {
	if r.Cassandra != nil {
		r.Cassandra.Close()
	}
	if r.Redis != nil {
		return r.Redis.Close()
	}
	return nil
}

// CheckConnection checks if cassandra and redis connections are alive
func (r *Repositories) CheckConnection(ctx context.Context) error {
	// Check Cassandra
	if r.Cassandra != nil {
		if err := r.Cassandra.Connect(ctx); err != nil {
			log.CtxError(ctx, "cassandra connect failed: %v", err)
			return err
		}
	}
	if _, err := r.Schema.Tables(ctx); err != nil {
		log.CtxError(ctx, "cassandra query failed: %v", err)
		return err
	}

	// Check Redis
	if r.Redis != nil {
		if err := r.Redis.Ping(ctx).Err(); err != nil {
			log.CtxError(ctx, "redis ping failed: %v", err)
			return err
		}
	}

	return nil
}
