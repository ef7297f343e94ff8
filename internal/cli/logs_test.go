package cli

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test plan for logs command:
// 1. Entries written by the JSON file handler are formatted one per line
// 2. Component filter (prefix match)
// 3. Lines that are not JSON are skipped
// 4. Follow mode keeps an unterminated line until it is complete
// 5. Helper functions (formatLogLevel, formatComponent)

func jsonLogs(t *testing.T, write func(*slog.Logger)) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	write(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return &buf
}

func TestPrintLogs(t *testing.T) {
	t.Parallel()

	buf := jsonLogs(t, func(l *slog.Logger) {
		l.With("component", "ChannelWatcher/dispatch").Info("local change recorded", "event", "created file a")
		l.With("component", "Store").Warn("slow query", "ms", 120)
		l.Debug("no component")
	})

	var out bytes.Buffer
	require.NoError(t, printLogs(context.Background(), buf, &out, "", false))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[INFO ] [ChannelWatcher/dispatch] local change recorded event=created file a")
	assert.Contains(t, lines[1], "[WARN ] [Store] slow query ms=120")
	assert.Contains(t, lines[2], "[DEBUG] [tandem] no component")
}

func TestPrintLogs_ComponentFilter(t *testing.T) {
	t.Parallel()

	buf := jsonLogs(t, func(l *slog.Logger) {
		l.With("component", "ChannelWatcher/dispatch").Info("dispatched")
		l.With("component", "ChannelWatcher/initialDiff").Info("diffed")
		l.With("component", "Store").Info("stored")
	})

	var out bytes.Buffer
	require.NoError(t, printLogs(context.Background(), buf, &out, "ChannelWatcher/", false))
	assert.Contains(t, out.String(), "dispatched")
	assert.Contains(t, out.String(), "diffed")
	assert.NotContains(t, out.String(), "stored")
}

func TestPrintLogs_SkipsGarbage(t *testing.T) {
	t.Parallel()

	in := strings.NewReader("not json\n\n{\"level\":\"ERROR\",\"msg\":\"boom\"}\n")
	var out bytes.Buffer
	require.NoError(t, printLogs(context.Background(), in, &out, "", false))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[ERROR] [tandem] boom")
}

func TestPrintLogs_FollowKeepsPartialLine(t *testing.T) {
	t.Parallel()

	in := strings.NewReader("{\"level\":\"INFO\",\"msg\":\"complete\"}\n{\"level\":\"INFO\",\"msg\":\"trunc")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	require.NoError(t, printLogs(ctx, in, &out, "", true))
	assert.Contains(t, out.String(), "complete")
	assert.NotContains(t, out.String(), "trunc")
}

func TestFormatLogHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DEBUG", formatLogLevel("DEBUG"))
	assert.Equal(t, "INFO ", formatLogLevel("INFO"))
	assert.Equal(t, "WARN ", formatLogLevel("WARN"))
	assert.Equal(t, "ERROR", formatLogLevel("ERROR"))
	assert.Equal(t, "tandem", formatComponent(""))
	assert.Equal(t, "Store", formatComponent("Store"))
}
