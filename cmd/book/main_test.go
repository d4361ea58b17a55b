package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func clientEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("BACKEND_URL", "http://127.0.0.1:1")
	t.Setenv("CURRENCY", "usd")
	t.Setenv("OUTBOX_INTERVAL", "10ms")
	t.Setenv("LOG_LEVEL", "error")
}

func TestRelayExitsCleanlyOnCancel(t *testing.T) {
	clientEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	if code := run(ctx, []string{"-relay"}, &bytes.Buffer{}); code != 0 {
		t.Fatalf("exit code=%d", code)
	}
}

func TestRelayReportsDeadline(t *testing.T) {
	clientEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if code := run(ctx, []string{"-relay"}, &bytes.Buffer{}); code != 1 {
		t.Fatalf("exit code=%d", code)
	}
}

func TestInvalidBookingFails(t *testing.T) {
	clientEnv(t)
	var out bytes.Buffer
	code := run(context.Background(), []string{"-amount", "25", "-user-id", "u1", "-ride-time", "10"}, &out)
	if code != 1 {
		t.Fatalf("exit code=%d", code)
	}
	if !strings.Contains(out.String(), "Error code:") {
		t.Fatalf("no alert printed: %q", out.String())
	}
}

func TestBadFlagExitCode(t *testing.T) {
	clientEnv(t)
	if code := run(context.Background(), []string{"-no-such-flag"}, &bytes.Buffer{}); code != 2 {
		t.Fatalf("exit code=%d", code)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	clientEnv(t)
	t.Setenv("CURRENCY", "dollars")
	if code := run(context.Background(), []string{"-relay"}, &bytes.Buffer{}); code != 1 {
		t.Fatalf("exit code=%d", code)
	}
}
