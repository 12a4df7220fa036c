package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"seller-gateway/internal/telemetry"
)

// NewMockDB returns a pgxmock pool that is closed when the test ends.
func NewMockDB(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)

	t.Cleanup(mockPool.Close)
	return mockPool
}

// NewTestLogger builds the production logger stack. Output is discarded
// unless TEST_LOGS is set.
func NewTestLogger() *slog.Logger {
	var out io.Writer = io.Discard
	if os.Getenv("TEST_LOGS") != "" {
		out = os.Stdout
	}
	return slog.New(telemetry.NewTraceHandler(slog.NewJSONHandler(out, nil)))
}
