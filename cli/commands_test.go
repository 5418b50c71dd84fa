package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-planner/config"
	"github.com/warp/debt-planner/ledger"
	"github.com/warp/debt-planner/ledger/store"
	"github.com/warp/debt-planner/ledger/storetest"
	"github.com/warp/debt-planner/planner"
	"github.com/warp/debt-planner/store/sqlite"
)

// =============================================================================
// HELPERS
// =============================================================================

// sqliteEnv writes a config pointing at a fresh SQLite file and returns
// both paths.
func sqliteEnv(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "planner.db")
	cfgPath = filepath.Join(dir, "config.toml")
	body := fmt.Sprintf("[storage]\ndriver = \"sqlite\"\nsqlite_path = %q\n\n[log]\nlevel = \"error\"\n", dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dbPath
}

// seed stores liabilities directly and closes the database again.
func seed(t *testing.T, dbPath string, liabs ...*ledger.Liability) {
	t.Helper()
	s, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer s.Close()
	for _, l := range liabs {
		require.NoError(t, s.CreateLiability(context.Background(), l))
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func balanceOf(t *testing.T, dbPath string, user ledger.UserID, l *ledger.Liability) int64 {
	t.Helper()
	s, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetLiability(context.Background(), user, l.ID)
	require.NoError(t, err)
	return got.BalanceCents
}

// =============================================================================
// BACKEND AND LOGGER
// =============================================================================

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	b, err := OpenBackend(ctx, config.StorageConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, b)
	require.NoError(t, b.Close())

	b, err = OpenBackend(ctx, config.StorageConfig{Driver: config.DriverSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, b.Ping(ctx))
	require.NoError(t, b.Close())

	b, err = OpenBackend(ctx, config.StorageConfig{Driver: "redis"})
	assert.Error(t, err)
	assert.Nil(t, b)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("plan generated", "allocations", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"plan generated"`)
	assert.Contains(t, buf.String(), `"allocations":2`)

	buf.Reset()
	logger, err = NewLogger(config.LogConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")

	_, err = NewLogger(config.LogConfig{Level: "loud", Format: "text"}, io.Discard)
	assert.Error(t, err)
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestMigrateCommand(t *testing.T) {
	cfgPath, _ := sqliteEnv(t)
	out, err := run(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated sqlite storage")
}

func TestCommands_RequireUser(t *testing.T) {
	cfgPath, _ := sqliteEnv(t)
	for _, args := range [][]string{
		{"liabilities"},
		{"plan", "--paycheck", "100"},
		{"reconcile"},
	} {
		_, err := run(t, append([]string{"--config", cfgPath}, args...)...)
		require.Error(t, err, "%v", args)
		assert.Contains(t, err.Error(), "--user is required")
	}
}

func TestLiabilitiesCommand(t *testing.T) {
	cfgPath, dbPath := sqliteEnv(t)
	seed(t, dbPath,
		storetest.Card("alice", "Visa", 100000, 1),
		storetest.Loan("alice", "Car", 250000, 2),
		storetest.Card("bob", "Amex", 1, 3),
	)

	out, err := run(t, "--config", cfgPath, "liabilities", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Visa")
	assert.Contains(t, out, "Car")
	assert.NotContains(t, out, "Amex")
	assert.Contains(t, out, "20.00%") // 100000 / 500000
	assert.Contains(t, out, "$3,500.00")

	_, err = run(t, "--config", cfgPath, "liabilities", "--user", "alice", "--status", "pending")
	assert.Error(t, err)
}

func TestPlanCommand_DraftThenApply(t *testing.T) {
	// GIVEN: A card over its 30% goal (250000 of 500000), due 2025-03-15
	// WHEN: A 500.00 paycheck on 2025-03-01 is planned
	// THEN: The draft pays the 30.00 minimum and 470.00 extra and leaves the
	//       balance alone; --apply records both and the balance drops to 200000

	cfgPath, dbPath := sqliteEnv(t)
	card := storetest.Card("alice", "Visa", 250000, 1)
	seed(t, dbPath, card)

	out, err := run(t, "--config", cfgPath, "plan", "--user", "alice", "--paycheck", "500", "--pay-date", "2025-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "minimum")
	assert.Contains(t, out, "$30.00")
	assert.Contains(t, out, "extra")
	assert.Contains(t, out, "$470.00")
	assert.Contains(t, out, "2025-03-15")
	assert.Contains(t, out, "rerun with --apply")
	assert.Equal(t, int64(250000), balanceOf(t, dbPath, "alice", card))

	out, err = run(t, "--config", cfgPath, "plan", "--user", "alice", "--paycheck", "500", "--pay-date", "2025-03-01", "--apply")
	require.NoError(t, err)
	assert.Contains(t, out, "2 payments recorded")
	assert.Equal(t, int64(200000), balanceOf(t, dbPath, "alice", card))
}

func TestPlanCommand_InvalidInput(t *testing.T) {
	cfgPath, _ := sqliteEnv(t)

	_, err := run(t, "--config", cfgPath, "plan", "--user", "alice", "--paycheck", "12.345")
	assert.ErrorContains(t, err, "--paycheck")

	_, err = run(t, "--config", cfgPath, "plan", "--user", "alice", "--paycheck", "100", "--pay-date", "03/01/2025")
	assert.ErrorContains(t, err, "--pay-date")

	_, err = run(t, "--config", cfgPath, "plan", "--user", "alice", "--paycheck", "100", "--strategy", "random")
	require.Error(t, err)
	assert.True(t, ledger.IsClientError(err))
}

func TestPlanCommand_NothingToApply(t *testing.T) {
	cfgPath, _ := sqliteEnv(t)
	_, err := run(t, "--config", cfgPath, "plan", "--user", "alice", "--paycheck", "100", "--apply")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestReconcileCommand(t *testing.T) {
	// GIVEN: A card whose stored balance drifted from its history
	// WHEN: reconcile runs without and then with --repair
	// THEN: The drift is reported, then repaired back to the replayed value

	cfgPath, dbPath := sqliteEnv(t)
	card := storetest.Card("alice", "Visa", 100000, 1)
	seed(t, dbPath, card)

	s, err := sqlite.New(dbPath)
	require.NoError(t, err)
	drifted := card.Clone()
	drifted.BalanceCents = 90000
	require.NoError(t, s.UpdateLiability(context.Background(), drifted))
	require.NoError(t, s.Close())

	out, err := run(t, "--config", cfgPath, "reconcile", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "drift")
	assert.Contains(t, out, "-$100.00")
	assert.Contains(t, out, "rerun with --repair")
	assert.Equal(t, int64(90000), balanceOf(t, dbPath, "alice", card))

	out, err = run(t, "--config", cfgPath, "reconcile", "--user", "alice", "--repair")
	require.NoError(t, err)
	assert.Contains(t, out, "repaired 1 liabilities")
	assert.Equal(t, int64(100000), balanceOf(t, dbPath, "alice", card))

	out, err = run(t, "--config", cfgPath, "reconcile", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "all balances match their history")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	// GIVEN: The API served from the memory backend
	// WHEN: /healthz is requested and the context is then cancelled
	// THEN: Health is 200 and serve returns nil after a graceful shutdown

	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	logger, err := NewLogger(config.LogConfig{Level: "error", Format: "text"}, io.Discard)
	require.NoError(t, err)

	mem := store.NewMemory()
	l := ledger.New(mem, ledger.WithLogger(logger))
	e := &env{
		cfg:      cfg,
		logger:   logger,
		backend:  mem,
		ledger:   l,
		recorder: planner.NewRecorder(l, planner.WithLogger(logger)),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, e, ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
