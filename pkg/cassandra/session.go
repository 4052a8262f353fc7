package cassandra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/mbeoliero/kit/log"
)

// Session executes parameterized CQL statements.
// Values are always passed as bind arguments, never formatted into the statement text.
type Session interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, stmt string, args ...interface{}) error
	// ExecCAS runs a lightweight transaction. When the condition fails, existing holds the current row.
	ExecCAS(ctx context.Context, stmt string, args ...interface{}) (applied bool, existing Row, err error)
	// Query returns every row of the result.
	Query(ctx context.Context, stmt string, args ...interface{}) ([]Row, error)
	// QueryPage returns at most pageSize rows starting at pageState, and the state to resume from.
	// An empty next state means the scan is exhausted.
	QueryPage(ctx context.Context, stmt string, pageSize int, pageState []byte, args ...interface{}) ([]Row, []byte, error)
}

// BootstrapFunc runs once on a keyspace-less session before the keyspace session is opened.
type BootstrapFunc func(ctx context.Context, s Session) error

// Options holds cluster connection settings
type Options struct {
	Hosts          []string
	Port           int
	Keyspace       string
	Username       string
	Password       string
	Consistency    string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	NumConns       int
	ConnectRetries int
	ConnectBackoff time.Duration
}

// Client is the process-wide storage handle. It connects lazily on first use and is safe
// for concurrent use.
type Client struct {
	opts      Options
	bootstrap BootstrapFunc

	mu      sync.Mutex
	session *gocql.Session
}

// NewClient creates a Client. No connection is made until Connect or the first statement.
func NewClient(opts Options, bootstrap BootstrapFunc) *Client {
	return &Client{opts: opts, bootstrap: bootstrap}
}

// Connect establishes the session, running the bootstrap step first.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.get(ctx)
	return err
}

// Close closes the underlying session
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
}

func (c *Client) get(ctx context.Context) (*gocql.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session, nil
	}

	if c.bootstrap != nil {
		boot, err := c.dial(ctx, "")
		if err != nil {
			return nil, err
		}
		err = c.bootstrap(ctx, &gocqlSession{s: boot})
		boot.Close()
		if err != nil {
			return nil, fmt.Errorf("bootstrap keyspace %s: %w", c.opts.Keyspace, err)
		}
	}

	s, err := c.dial(ctx, c.opts.Keyspace)
	if err != nil {
		return nil, err
	}
	c.session = s
	log.CtxInfo(ctx, "connected to cassandra: hosts=%v, keyspace=%s", c.opts.Hosts, c.opts.Keyspace)
	return s, nil
}

// dial opens a session with a bounded retry loop: fixed attempt count, fixed backoff.
func (c *Client) dial(ctx context.Context, keyspace string) (*gocql.Session, error) {
	attempts := c.opts.ConnectRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		cluster, err := c.newCluster(keyspace)
		if err != nil {
			return nil, err
		}
		s, err := cluster.CreateSession()
		if err == nil {
			return s, nil
		}
		lastErr = err
		log.CtxWarn(ctx, "cassandra not ready: attempt=%d/%d, error=%v", attempt, attempts, err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.ConnectBackoff):
		}
	}
	return nil, &unavailableError{err: fmt.Errorf("connect to cassandra after %d attempts: %w", attempts, lastErr)}
}

func (c *Client) newCluster(keyspace string) (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(c.opts.Hosts...)
	if c.opts.Port > 0 {
		cluster.Port = c.opts.Port
	}
	cluster.Keyspace = keyspace
	if c.opts.Timeout > 0 {
		cluster.Timeout = c.opts.Timeout
	}
	if c.opts.ConnectTimeout > 0 {
		cluster.ConnectTimeout = c.opts.ConnectTimeout
	}
	if c.opts.NumConns > 0 {
		cluster.NumConns = c.opts.NumConns
	}
	if c.opts.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: c.opts.Username,
			Password: c.opts.Password,
		}
	}
	cluster.Consistency = gocql.Quorum
	if c.opts.Consistency != "" {
		consistency, err := gocql.ParseConsistencyWrapper(c.opts.Consistency)
		if err != nil {
			return nil, fmt.Errorf("invalid consistency %q: %w", c.opts.Consistency, err)
		}
		cluster.Consistency = consistency
	}
	return cluster, nil
}

func (c *Client) Exec(ctx context.Context, stmt string, args ...interface{}) error {
	s, err := c.get(ctx)
	if err != nil {
		return err
	}
	return (&gocqlSession{s: s}).Exec(ctx, stmt, args...)
}

func (c *Client) ExecCAS(ctx context.Context, stmt string, args ...interface{}) (bool, Row, error) {
	s, err := c.get(ctx)
	if err != nil {
		return false, nil, err
	}
	return (&gocqlSession{s: s}).ExecCAS(ctx, stmt, args...)
}

func (c *Client) Query(ctx context.Context, stmt string, args ...interface{}) ([]Row, error) {
	s, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	return (&gocqlSession{s: s}).Query(ctx, stmt, args...)
}

func (c *Client) QueryPage(ctx context.Context, stmt string, pageSize int, pageState []byte, args ...interface{}) ([]Row, []byte, error) {
	s, err := c.get(ctx)
	if err != nil {
		return nil, nil, err
	}
	return (&gocqlSession{s: s}).QueryPage(ctx, stmt, pageSize, pageState, args...)
}

// gocqlSession adapts *gocql.Session to Session
type gocqlSession struct {
	s *gocql.Session
}

func (g *gocqlSession) Exec(ctx context.Context, stmt string, args ...interface{}) error {
	return classify(g.s.Query(stmt, args...).WithContext(ctx).Exec())
}

func (g *gocqlSession) ExecCAS(ctx context.Context, stmt string, args ...interface{}) (bool, Row, error) {
	existing := make(map[string]interface{})
	applied, err := g.s.Query(stmt, args...).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return false, nil, classify(err)
	}
	return applied, Row(existing), nil
}

func (g *gocqlSession) Query(ctx context.Context, stmt string, args ...interface{}) ([]Row, error) {
	iter := g.s.Query(stmt, args...).WithContext(ctx).Iter()
	return scanAll(iter)
}

func (g *gocqlSession) QueryPage(ctx context.Context, stmt string, pageSize int, pageState []byte, args ...interface{}) ([]Row, []byte, error) {
	// Setting a page state turns off driver auto-paging, so the iterator stops after one page.
	iter := g.s.Query(stmt, args...).
		WithContext(ctx).
		PageSize(pageSize).
		PageState(pageState).
		Iter()
	next := iter.PageState()

	rows, err := scanAll(iter)
	if err != nil {
		return nil, nil, err
	}
	return rows, next, nil
}

func scanAll(iter *gocql.Iter) ([]Row, error) {
	rows := make([]Row, 0, iter.NumRows())
	for {
		m := make(map[string]interface{})
		if !iter.MapScan(m) {
			break
		}
		rows = append(rows, m)
	}
	if err := iter.Close(); err != nil {
		return nil, classify(err)
	}
	return rows, nil
}
