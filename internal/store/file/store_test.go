package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/domain"
)

type testDoc struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	scope := domain.Context{Mode: domain.ModeSim, Account: "Sim1"}

	require.NoError(t, s.Write(scope, "balance", testDoc{Name: "a", Value: 42.5}))

	var got testDoc
	require.NoError(t, s.Read(scope, "balance", &got))
	assert.Equal(t, testDoc{Name: "a", Value: 42.5}, got)
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	var got testDoc
	err := s.Read(domain.Context{Mode: domain.ModeSim, Account: "Sim1"}, "nope", &got)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadRejectsUnknownSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	scope := domain.Context{Mode: domain.ModeLive, Account: "Acct1"}

	require.NoError(t, s.Write(scope, "doc", testDoc{Name: "x"}))

	// Rewrite the envelope with an older schema version.
	path := filepath.Join(dir, "LIVE", "Acct1", "doc.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &env))
	env["schema_version"] = json.RawMessage(`"1.0"`)
	downgraded, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, downgraded, 0o600))

	var got testDoc
	err = s.Read(scope, "doc", &got)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestInterruptedWriteLeavesCommittedDocumentIntact(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	scope := domain.Context{Mode: domain.ModeSim, Account: "Sim1"}

	require.NoError(t, s.Write(scope, "doc", testDoc{Name: "committed", Value: 1}))

	// Simulate a crash between temp-file creation and the rename: a stray
	// half-written temp file in the scope directory.
	scopeDir := filepath.Join(dir, "SIM", "Sim1")
	require.NoError(t, os.WriteFile(filepath.Join(scopeDir, ".tmp-crashed"), []byte(`{"schema_ver`), 0o600))

	var got testDoc
	require.NoError(t, s.Read(scope, "doc", &got))
	assert.Equal(t, "committed", got.Name)

	// The stray temp file is invisible to listings as well.
	keys, err := s.ListKeys(scope, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc"}, keys)
}

func TestListKeysFiltersByPrefix(t *testing.T) {
	s := newTestStore(t)
	scope := domain.Context{Mode: domain.ModeSim, Account: "Sim1"}

	require.NoError(t, s.Write(scope, "balance_Sim1", testDoc{}))
	require.NoError(t, s.Write(scope, "balance_Sim2", testDoc{}))
	require.NoError(t, s.Write(scope, "watermark_Sim1", testDoc{}))

	keys, err := s.ListKeys(scope, "balance_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"balance_Sim1", "balance_Sim2"}, keys)
}

func TestZeroScopeUsesStoreRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Write(domain.Context{}, "last_known_mode", testDoc{Name: "root"}))
	_, err = os.Stat(filepath.Join(dir, "last_known_mode.json"))
	require.NoError(t, err)
}
