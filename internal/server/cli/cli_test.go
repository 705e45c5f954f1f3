package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/toolsync/internal/server/handlers"
)

const testSecret = "0123456789abcdef-secret"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand(BuildInfo{Version: "1.2.3", BuildDate: "2026-01-01", GitCommit: "abc123"})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    1.2.3")
	assert.Contains(t, out, "Build Date: 2026-01-01")
	assert.Contains(t, out, "Git Commit: abc123")
}

func TestTokenCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sync.db")

	out, err := run(t, "token", "--db", db, "--jwt-secret", testSecret, "--user", " alice ", "--device", "laptop", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := handlers.ValidateAccessToken(handlers.JWTConfig{Secret: []byte(testSecret)}, strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "laptop", claims.DeviceID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "auth disabled", args: []string{"token", "--user", "alice"}, wantErr: "auth is disabled"},
		{name: "missing user", args: []string{"token", "--jwt-secret", testSecret}, wantErr: `"user" not set`},
		{name: "blank user", args: []string{"token", "--jwt-secret", testSecret, "--user", "  "}, wantErr: "user_id cannot be empty"},
		{name: "short secret", args: []string{"token", "--jwt-secret", "short", "--user", "alice"}, wantErr: "at least 16 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMigrateCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sync.db")

	out, err := run(t, "migrate", "status", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.NotContains(t, out, "applied")

	out, err = run(t, "migrate", "up", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "00001_create_sync_tables.sql")
	assert.Contains(t, out, "00002_create_snapshot_history.sql")

	out, err = run(t, "migrate", "up", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "no migrations to apply")

	out, err = run(t, "migrate", "down", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "DOWN 00002_create_snapshot_history.sql")

	out, err = run(t, "migrate", "status", "--db", db)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "applied"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "pending"), lines[1])
}

func TestArchiveCommand_RequiresBucket(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sync.db")

	_, err := run(t, "archive", "--db", db, "--user", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive.bucket is required")
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	_, err := run(t, "serve", "--log-format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "log.format")
}

func TestServeCommand_StopsOnCancel(t *testing.T) {
	root := NewRootCommand(BuildInfo{})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"serve", "--addr", "127.0.0.1:0", "--db", filepath.Join(t.TempDir(), "sync.db")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
