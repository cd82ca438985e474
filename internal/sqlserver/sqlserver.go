// Package sqlserver executes statements against an Azure SQL database over the
// SQL Server wire protocol.
package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/microsoft/go-mssqldb"
)

// ErrNotReady is returned when a database cannot be reached before the readiness
// timeout expires.
var ErrNotReady = errors.New("database not reachable")

// Options configures how the client reaches a logical server.
type Options struct {
	Host         string
	Port         int
	User         string
	Password     string
	ReadyTimeout time.Duration
}

// Client executes one batch per call on a connection checked out of a per-database
// pool. The connection is returned to the pool whether or not the batch succeeds.
type Client struct {
	opts Options

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// HostForServer returns the public endpoint of an Azure SQL logical server.
func HostForServer(server string) string {
	return server + ".database.windows.net"
}

func NewClient(opts Options) *Client {
	if opts.Port == 0 {
		opts.Port = 1433
	}
	return &Client{opts: opts, pools: make(map[string]*sql.DB)}
}

// DSN builds the go-mssqldb connection url for a database.
func (c *Client) DSN(database string) string {
	query := url.Values{}
	query.Add("database", database)
	query.Add("encrypt", "true")
	query.Add("TrustServerCertificate", "false")
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.opts.User, c.opts.Password),
		Host:     fmt.Sprintf("%s:%d", c.opts.Host, c.opts.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (c *Client) pool(database string) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.pools[database]; ok {
		return db, nil
	}
	db, err := sql.Open("sqlserver", c.DSN(database))
	if err != nil {
		return nil, fmt.Errorf("failed to open connection pool for %q: %w", database, err)
	}
	db.SetConnMaxIdleTime(60 * time.Second)
	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(4)
	c.pools[database] = db
	return db, nil
}

// Exec runs statement as a single batch on database.
func (c *Client) Exec(ctx context.Context, database, statement string) error {
	db, err := c.pool(database)
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to %s/%s: %w", c.opts.Host, database, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("failed to execute statement on %s: %w", database, err)
	}
	return nil
}

// WaitReady pings database with exponential backoff until it answers or the
// readiness timeout elapses. Firewall rules take an unpredictable time to apply,
// so this is how callers know the server accepts their connections.
func (c *Client) WaitReady(ctx context.Context, database string) error {
	db, err := c.pool(database)
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = c.opts.ReadyTimeout

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("Database not reachable yet, will retry.", "database", database, "attempt", attempt, "backoff", wait.String(), "error", err)
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(policy, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s/%s after %s: %v", ErrNotReady, c.opts.Host, database, c.opts.ReadyTimeout, err)
	}
	slog.Info("Database reachable.", "database", database, "attempts", attempt)
	return nil
}

// Close releases every pool the client opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for name, db := range c.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing pool for %q: %w", name, err))
		}
		delete(c.pools, name)
	}
	return errors.Join(errs...)
}
