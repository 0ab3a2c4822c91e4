package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jorge-Gabriel97/Timesend/internal/session"
)

func TestRootCmd_Wiring(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"serve"},
		{"migrate"},
		{"admin", "create"},
		{"session", "reset"},
		{"contacts", "import"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	reset, _, err := root.Find([]string{"session", "reset"})
	require.NoError(t, err)
	assert.NotNil(t, reset.Flags().Lookup("tenant"))

	create, _, err := root.Find([]string{"admin", "create"})
	require.NoError(t, err)
	assert.NotNil(t, create.Flags().Lookup("username"))
	assert.NotNil(t, create.Flags().Lookup("password"))
}

func TestRootCmd_ContactsImportNeedsFile(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"contacts", "import"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestRootCmd_MissingConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("AUTOMATION_URL", "")
	t.Setenv("JWT_SECRET", "")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
	assert.Contains(t, err.Error(), "POSTGRES_URL")
}

func TestRootCmd_SessionReset(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("POSTGRES_URL", "postgres://unused")
	t.Setenv("AUTOMATION_URL", "http://unused")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SESSION_DIR", filepath.Join(dir, "sessions"))
	t.Setenv("LOG_LEVEL", "error")

	profile := filepath.Join(dir, "sessions", "session_5")
	require.NoError(t, os.MkdirAll(filepath.Join(profile, "Default"), 0o750))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"session", "reset", "--tenant", "5"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "session_5")

	_, err := os.Stat(profile)
	assert.True(t, os.IsNotExist(err))
}

type orderedCloser struct {
	name  string
	calls *[]string
}

func (c orderedCloser) Close() { *c.calls = append(*c.calls, c.name) }

func (c orderedCloser) Stop() bool {
	*c.calls = append(*c.calls, c.name)
	return true
}

func TestStopBackground_PairingBeforeScheduler(t *testing.T) {
	var calls []string
	stopBackground(orderedCloser{name: "pairing", calls: &calls}, orderedCloser{name: "scheduler", calls: &calls})
	assert.Equal(t, []string{"pairing", "scheduler"}, calls)
}

// heldSession stands in for a pairing task holding a session lock that a
// running fire is waiting for.
type heldSession struct {
	release func()
}

func (h *heldSession) Close() { h.release() }

type drainingScheduler struct {
	fired chan struct{}
}

func (d *drainingScheduler) Stop() bool {
	<-d.fired
	return true
}

func TestStopBackground_FireBlockedOnPairingDrains(t *testing.T) {
	locks := session.NewLocks()
	release, err := locks.Acquire(context.Background(), "session_1")
	require.NoError(t, err)

	sched := &drainingScheduler{fired: make(chan struct{})}
	go func() {
		rel, err := locks.Acquire(context.Background(), "session_1")
		if err == nil {
			rel()
		}
		close(sched.fired)
	}()

	done := make(chan struct{})
	go func() {
		stopBackground(&heldSession{release: release}, sched)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not drain")
	}
}
