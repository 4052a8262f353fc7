package constant

// Replication strategies accepted for the keyspace
const (
	ReplicationSimple          = "SimpleStrategy"
	ReplicationNetworkTopology = "NetworkTopologyStrategy"
)

// Pagination defaults
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Redis key patterns (without prefix, use RedisKey() to get full key)
const (
	redisKeyIdempotency = "idem:msg:%d:%s" // idem:msg:{sender_id}:{idempotency_key}
	redisKeyPageState   = "page:%s:%d"     // page:{query_hash}:{page}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "widechat:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// Redis key getters with prefix
func RedisKeyIdempotency() string { return redisKeyPrefix + redisKeyIdempotency }
func RedisKeyPageState() string   { return redisKeyPrefix + redisKeyPageState }
