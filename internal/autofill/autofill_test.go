package autofill

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textinputd/internal/config"
)

func testConfig(t *testing.T) config.AutofillConfig {
	t.Helper()
	dir := t.TempDir()
	return config.AutofillConfig{
		Enabled:        true,
		StorePath:      filepath.Join(dir, "autofill.db"),
		KeyPath:        filepath.Join(dir, "autofill.key"),
		BusyTimeoutMs:  1000,
		MaxConnections: 2,
		SaveOnFinish:   true,
		RetentionDays:  30,
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesKeyFile(t *testing.T) {
	cfg := testConfig(t)
	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	fi, err := os.Stat(cfg.KeyPath)
	require.NoError(t, err)
	assert.EqualValues(t, MasterKeySize, fi.Size())
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
	}
}

func TestOpenRejectsTruncatedKey(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.KeyPath, []byte("short"), 0600))

	_, err := Open(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestSaveAndLookup(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveContext("login-form", map[string]string{
		"username": "kara",
		"password": "hunter2",
	})
	require.NoError(t, err)

	got, err := s.Lookup([]string{"username", "password", "email"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"username": "kara",
		"password": "hunter2",
	}, got)
}

func TestLookupPrefersNewest(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveContext("form-a", map[string]string{"username": "old-name"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.SaveContext("form-b", map[string]string{"username": "new-name"}))

	got, err := s.Lookup([]string{"username"})
	require.NoError(t, err)
	assert.Equal(t, "new-name", got["username"])
}

func TestSaveContextSkipsEmptyValues(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveContext("form", map[string]string{
		"username": "kara",
		"nickname": "",
		"":         "orphan",
	})
	require.NoError(t, err)

	n, err := s.CountEntries()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSaveContextRejectsEmptyID(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveContext("", map[string]string{"username": "kara"})
	require.Error(t, err)
}

func TestValuesSealedOnDisk(t *testing.T) {
	cfg := testConfig(t)
	s, err := Open(cfg)
	require.NoError(t, err)

	secret := "correct-horse-battery-staple"
	require.NoError(t, s.SaveContext("vault", map[string]string{"password": secret}))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(cfg.StorePath)
	require.NoError(t, err)
	if wal, err := os.ReadFile(cfg.StorePath + "-wal"); err == nil {
		raw = append(raw, wal...)
	}
	assert.NotContains(t, string(raw), secret)
	assert.Contains(t, string(raw), "password", "hints are stored in the clear")
}

func TestReopenWithSameKey(t *testing.T) {
	cfg := testConfig(t)

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.SaveContext("form", map[string]string{"email": "kara@example.com"}))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Lookup([]string{"email"})
	require.NoError(t, err)
	assert.Equal(t, "kara@example.com", got["email"])
}

func TestLookupFailsWithWrongKey(t *testing.T) {
	cfg := testConfig(t)

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.SaveContext("form", map[string]string{"email": "kara@example.com"}))
	require.NoError(t, s.Close())

	wrong := make([]byte, MasterKeySize)
	for i := range wrong {
		wrong[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(cfg.KeyPath, wrong, 0600))

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Lookup([]string{"email"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unseal")
}

func TestSealerRejectsWrongAAD(t *testing.T) {
	key := make([]byte, MasterKeySize)
	slr, err := newSealer(key)
	require.NoError(t, err)

	nonce, sealed, err := slr.seal([]byte("value"), rowAAD("ctx-1", "username"))
	require.NoError(t, err)

	_, err = slr.open(nonce, sealed, rowAAD("ctx-2", "username"))
	require.Error(t, err)

	got, err := slr.open(nonce, sealed, rowAAD("ctx-1", "username"))
	require.NoError(t, err)
	assert.Equal(t, "value", string(got))
}

func TestDeleteContext(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveContext("form-a", map[string]string{"username": "kara"}))
	require.NoError(t, s.SaveContext("form-b", map[string]string{"email": "kara@example.com"}))

	require.NoError(t, s.Delete("form-a"))

	got, err := s.Lookup([]string{"username", "email"})
	require.NoError(t, err)
	assert.NotContains(t, got, "username")
	assert.Equal(t, "kara@example.com", got["email"])
}

func TestClear(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveContext("form", map[string]string{
		"username": "kara",
		"email":    "kara@example.com",
	}))

	n, err := s.Clear()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	count, err := s.CountEntries()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPruneDropsExpiredValues(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveContext("stale-form", map[string]string{"username": "old"}))
	require.NoError(t, s.SaveContext("fresh-form", map[string]string{"email": "new@example.com"}))

	backdated := time.Now().AddDate(0, 0, -40).UnixNano()
	_, err := s.db.Exec("UPDATE autofill_values SET updated_at = ? WHERE context_id = ?", backdated, "stale-form")
	require.NoError(t, err)

	pruned, err := s.Prune()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	got, err := s.Lookup([]string{"username", "email"})
	require.NoError(t, err)
	assert.NotContains(t, got, "username")
	assert.Contains(t, got, "email")
}

func TestPruneDisabledKeepsEverything(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionDays = 0
	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveContext("form", map[string]string{"username": "kara"}))

	backdated := time.Now().AddDate(-1, 0, 0).UnixNano()
	_, err = s.db.Exec("UPDATE autofill_values SET updated_at = ?", backdated)
	require.NoError(t, err)

	pruned, err := s.Prune()
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestList(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveContext("form", map[string]string{
		"username": "kara",
		"password": "hunter2",
	}))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "form", e.ContextID)
		assert.False(t, e.CreatedAt.IsZero())
		assert.False(t, e.UpdatedAt.IsZero())
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveContext("form-a", map[string]string{
		"username": "kara",
		"password": "hunter2",
	}))
	require.NoError(t, s.SaveContext("form-b", map[string]string{"username": "other"}))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.Entries)
	assert.EqualValues(t, 2, st.Contexts)
	assert.EqualValues(t, 2, st.DistinctHints)
	assert.False(t, st.OldestEntry.IsZero())
	assert.False(t, st.NewestEntry.IsZero())
	assert.Positive(t, st.SizeBytes)
}

func TestMigrateIsIdempotent(t *testing.T) {
	cfg := testConfig(t)

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestSessionCollectAndFinish(t *testing.T) {
	s := openTestStore(t)
	sess := NewSession()

	sess.Observe("login-form::username", []string{"username"}, "k")
	sess.Update("ka")
	sess.Update("kara")
	sess.Observe("login-form::password", []string{"password"}, "")
	sess.Update("hunter2")

	assert.Equal(t, "login-form::username", sess.ContextID())

	n, err := sess.Finish(s, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, sess.Empty())
	assert.Empty(t, sess.ContextID())

	got, err := s.Lookup([]string{"username", "password"})
	require.NoError(t, err)
	assert.Equal(t, "kara", got["username"])
	assert.Equal(t, "hunter2", got["password"])
}

func TestSessionFinishWithoutSave(t *testing.T) {
	s := openTestStore(t)
	sess := NewSession()

	sess.Observe("form::card", []string{"creditCardNumber"}, "4111")

	n, err := sess.Finish(s, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := s.CountEntries()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSessionUpdateTracksFocusedField(t *testing.T) {
	sess := NewSession()

	sess.Observe("form::a", []string{"username"}, "kara")
	sess.Observe("form::b", []string{"email"}, "")
	sess.Update("kara@example.com")

	values := sess.Values()
	assert.Equal(t, "kara", values["username"])
	assert.Equal(t, "kara@example.com", values["email"])
}

func TestSessionReset(t *testing.T) {
	sess := NewSession()
	sess.Observe("form::a", []string{"username"}, "kara")

	sess.Reset()
	assert.True(t, sess.Empty())
	assert.Empty(t, sess.ContextID())

	n, err := sess.Finish(nil, true)
	require.NoError(t, err)
	assert.Zero(t, n)
}
