package sqlserver

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostForServer(t *testing.T) {
	assert.Equal(t, "tlc-data-serverx.database.windows.net", HostForServer("tlc-data-serverx"))
}

func TestDSN(t *testing.T) {
	client := NewClient(Options{Host: HostForServer("srv"), User: "admin", Password: "p@ss;word"})

	parsed, err := url.Parse(client.DSN("tlc-data-dbx"))
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", parsed.Scheme)
	assert.Equal(t, "srv.database.windows.net:1433", parsed.Host)
	assert.Equal(t, "admin", parsed.User.Username())
	password, _ := parsed.User.Password()
	assert.Equal(t, "p@ss;word", password)
	assert.Equal(t, "tlc-data-dbx", parsed.Query().Get("database"))
	assert.Equal(t, "true", parsed.Query().Get("encrypt"))
}

func TestWaitReady_TimesOut(t *testing.T) {
	// Nothing listens on port 1 of the loopback interface.
	client := NewClient(Options{Host: "127.0.0.1", Port: 1, User: "u", Password: "p", ReadyTimeout: 3 * time.Second})
	defer client.Close()

	err := client.WaitReady(context.Background(), "db")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReady))
}

func TestWaitReady_HonoursCancellation(t *testing.T) {
	client := NewClient(Options{Host: "127.0.0.1", Port: 1, User: "u", Password: "p", ReadyTimeout: time.Minute})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.WaitReady(ctx, "db")
	assert.ErrorIs(t, err, context.Canceled)
}
