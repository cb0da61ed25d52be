package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/go-anythread/internal/config"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Soak.Callers = 4
	cfg.Soak.Calls = 30
	return cfg
}

func TestRunSoak(t *testing.T) {
	rep, err := runSoak(context.Background(), testConfig(), newLogger(io.Discard, logiface.LevelDisabled), prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, 120, rep.calls)
	assert.Equal(t, 120, rep.ok)
	assert.Equal(t, 120, rep.ownerCalls)
	assert.Zero(t, rep.offOwner)
	assert.Zero(t, rep.mismatched)
	assert.Zero(t, rep.balances)
}

func TestRunSoak_injectedFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Soak.FailEvery = 3
	cfg.Soak.PanicEvery = 5

	rep, err := runSoak(context.Background(), cfg, newLogger(io.Discard, logiface.LevelDisabled), nil)
	require.NoError(t, err)

	// per caller, of 1..30: 6 multiples of 5 panic, 8 other multiples of 3 fail
	assert.Equal(t, 4*6, rep.panicked)
	assert.Equal(t, 4*8, rep.failed)
	assert.Equal(t, 4*16, rep.ok)
	assert.Equal(t, 120, rep.ownerCalls)
	assert.Zero(t, rep.mismatched)
	assert.Zero(t, rep.balances)
}

func TestRunSoak_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runSoak(ctx, testConfig(), newLogger(io.Discard, logiface.LevelDisabled), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReport_err(t *testing.T) {
	assert.NoError(t, (&report{calls: 2, ownerCalls: 2}).err())
	assert.ErrorContains(t, (&report{offOwner: 1}).err(), "off the owner goroutine")
	assert.ErrorContains(t, (&report{mismatched: 1}).err(), "results did not match")
	assert.ErrorContains(t, (&report{balances: 1}).err(), "final balances did not match")
	assert.ErrorContains(t, (&report{calls: 2, ownerCalls: 1}).err(), "owner processed 1 calls")
	assert.NoError(t, (&report{calls: 2, ownerCalls: 1, timedOut: 1}).err())
}

func TestSoakCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := soakCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--callers", "2", "--calls", "10", "--fail-every", "4", "--log-level", "err"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "calls:        20 (16 ok, 4 failed, 0 panicked, 0 timed out)")
	assert.Contains(t, out.String(), "owner calls:  20 (0 off owner)")
}

func TestSoakCmd_invalidConfig(t *testing.T) {
	cmd := soakCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--work", "forever"})
	assert.ErrorContains(t, cmd.Execute(), "invalid config")
}

func TestSoakCmd_configFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anythread.yaml")
	require.NoError(t, os.WriteFile(path, []byte("soak:\n  callers: 3\n  calls: 5\nlog:\n  level: disabled\n"), 0o600))
	configFile = path
	t.Cleanup(func() { configFile = "" })

	var out bytes.Buffer
	cmd := soakCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--calls", "2"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "calls:        6 (6 ok")
}
