// Package repotest builds repositories over the in-memory store and an in-process Redis.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mbeoliero/widechat/internal/config"
	"github.com/mbeoliero/widechat/internal/repository"
	"github.com/mbeoliero/widechat/pkg/cassandra/cassandratest"
	"github.com/mbeoliero/widechat/pkg/idgen"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Keyspace is the keyspace fixtures create
const Keyspace = "widechat_test"

// Fixture is a schema-initialized set of repositories
type Fixture struct {
	Session *cassandratest.Session
	Redis   *miniredis.Miniredis
	Config  *config.Config
	Repos   *repository.Repositories
}

// Config returns the configuration fixtures use
func Config() *config.Config {
	return &config.Config{
		Cassandra: config.CassandraConfig{
			Keyspace: Keyspace,
			Replication: config.ReplicationConfig{
				Class:  "SimpleStrategy",
				Factor: 1,
			},
		},
		Redis: config.RedisConfig{
			Enabled:        true,
			IdempotencyTTL: time.Hour,
		},
		Pagination: config.PaginationConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			PageStateTTL:    10 * time.Minute,
		},
		Reconcile: config.ReconcileConfig{
			Shards:    4,
			BatchSize: 100,
		},
	}
}

// New creates a Fixture backed by miniredis
func New(t testing.TB) *Fixture {
	return newFixture(t, true)
}

// NewWithoutRedis creates a Fixture with Redis disabled
func NewWithoutRedis(t testing.TB) *Fixture {
	return newFixture(t, false)
}

func newFixture(t testing.TB, withRedis bool) *Fixture {
	t.Helper()

	cfg := Config()
	f := &Fixture{
		Session: cassandratest.New(),
		Config:  cfg,
	}

	var rdb *redis.Client
	if withRedis {
		f.Redis = miniredis.RunT(t)
		rdb = redis.NewClient(&redis.Options{Addr: f.Redis.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
	} else {
		cfg.Redis.Enabled = false
	}

	ids, err := idgen.NewSonyflakeGenerator(1)
	require.NoError(t, err)

	f.Repos = repository.NewRepositoriesWithSession(f.Session, rdb, ids, cfg)
	require.NoError(t, f.Repos.Schema.EnsureSchema(context.Background()))
	return f
}
