// ABOUTME: Tests for the session registry and its persistence
// ABOUTME: Covers id validation, set/get round trips, self-healing load and save failures

package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validID = "thread_abc123def456"

// failingPersister loads a fixed registry and fails every save.
type failingPersister struct {
	mu      sync.Mutex
	entries map[string]any
	saves   int
}

func (f *failingPersister) Load() (map[string]any, error) {
	return f.entries, nil
}

func (f *failingPersister) Save(map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return errors.New("disk full")
}

func readRegistry(t *testing.T, path string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]string
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestParseID(t *testing.T) {
	valid := []string{validID, "thread_12345678", "thread_ABCDEFGHIJKLMNOPQRSTUVWX"}
	for _, s := range valid {
		id, err := ParseID(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, id.String())
	}

	invalid := []string{"", "thread_", "thread_short", "run_abc123def456xyz", "abc123def456thread_", "thread_abc 123def456", "[object Object]"}
	for _, s := range invalid {
		_, err := ParseID(s)
		assert.ErrorIs(t, err, ErrInvalidSessionID, s)
		assert.False(t, Valid(s), s)
	}
}

func TestCoerce(t *testing.T) {
	type remoteThread struct {
		ID     string
		Object string
	}

	assert.Equal(t, validID, Coerce(validID))
	assert.Equal(t, validID, Coerce(map[string]any{"id": validID, "object": "thread"}))
	assert.Equal(t, validID, Coerce(remoteThread{ID: validID, Object: "thread"}))
	assert.Equal(t, validID, Coerce(&remoteThread{ID: validID}))
	assert.Equal(t, "12345", Coerce(json.Number("12345")))
	assert.Equal(t, "", Coerce(nil))
	assert.Equal(t, "true", Coerce(true))
}

func TestStore_SetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := Open(NewJSONFile(path), nil)

	id, err := s.Set("user-1", validID)
	require.NoError(t, err)
	assert.Equal(t, ID(validID), id)

	got, ok := s.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, ID(validID), got)

	// Persisted synchronously
	assert.Equal(t, map[string]string{"user-1": validID}, readRegistry(t, path))
}

func TestStore_SetRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := Open(NewJSONFile(path), nil)
	_, err := s.Set("user-1", validID)
	require.NoError(t, err)

	for _, bad := range []string{"", "thread_x", "session_abc123def456"} {
		_, err := s.Set("user-1", bad)
		assert.ErrorIs(t, err, ErrInvalidSessionID)

		_, err = s.Set("user-2", bad)
		assert.ErrorIs(t, err, ErrInvalidSessionID)
	}

	got, ok := s.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, ID(validID), got)
	_, ok = s.Get("user-2")
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"user-1": validID}, readRegistry(t, path))
}

func TestStore_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := Open(NewJSONFile(path), nil)
	_, err := s.Set("user-1", validID)
	require.NoError(t, err)

	s.Remove("user-1")
	_, ok := s.Get("user-1")
	assert.False(t, ok)
	assert.Empty(t, readRegistry(t, path))

	// Idempotent
	s.Remove("user-1")
	s.Remove("never-seen")
}

func TestStore_IsFirstInteraction(t *testing.T) {
	s := Open(NewJSONFile(filepath.Join(t.TempDir(), "sessions.json")), nil)

	assert.True(t, s.IsFirstInteraction("user-1"))
	assert.True(t, s.IsFirstInteraction("user-1"), "checking must not mutate state")

	_, err := s.Set("user-1", validID)
	require.NoError(t, err)
	assert.False(t, s.IsFirstInteraction("user-1"))

	s.Remove("user-1")
	assert.True(t, s.IsFirstInteraction("user-1"))
}

func TestStore_LoadSelfHeals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	raw := `{
		"good": "thread_abc123def456",
		"object": {"id": "thread_fromobject9999"},
		"short": "thread_1",
		"wrong-prefix": "run_abc123def456789",
		"number": 42,
		"null": null,
		"junk": {"foo": "bar"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	s := Open(NewJSONFile(path), nil)

	assert.Equal(t, 2, s.Len())
	got, ok := s.Get("good")
	require.True(t, ok)
	assert.Equal(t, ID("thread_abc123def456"), got)
	got, ok = s.Get("object")
	require.True(t, ok)
	assert.Equal(t, ID("thread_fromobject9999"), got)

	for _, user := range []string{"short", "wrong-prefix", "number", "null", "junk"} {
		_, ok := s.Get(user)
		assert.False(t, ok, user)
	}

	// Rewritten file holds only the valid subset
	assert.Equal(t, map[string]string{
		"good":   "thread_abc123def456",
		"object": "thread_fromobject9999",
	}, readRegistry(t, path))

	// A second load sees the cleaned file
	again := Open(NewJSONFile(path), nil)
	assert.Equal(t, 2, again.Len())
}

func TestStore_LoadCleanRegistryIsNotRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	raw := `{"good":"thread_abc123def456"}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	s := Open(NewJSONFile(path), nil)
	assert.Equal(t, 1, s.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, string(data))
}

func TestStore_LoadCorruptFileIsQuarantined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"user": "thread_abc1`), 0600))

	s := Open(NewJSONFile(path), nil)
	assert.Equal(t, 0, s.Len())

	_, err := os.Stat(path + ".corrupt")
	assert.NoError(t, err, "corrupt file should be kept aside")
	assert.Empty(t, readRegistry(t, path))
}

func TestStore_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")
	s := Open(NewJSONFile(path), nil)
	assert.Equal(t, 0, s.Len())

	_, err := s.Set("user-1", validID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user-1": validID}, readRegistry(t, path))
}

func TestStore_SaveFailureIsNotFatal(t *testing.T) {
	p := &failingPersister{entries: map[string]any{"user-1": validID}}
	s := Open(p, nil)

	id, err := s.Set("user-2", "thread_zzz999yyy888")
	require.NoError(t, err, "save failures must not surface to callers")
	assert.Equal(t, ID("thread_zzz999yyy888"), id)

	got, ok := s.Get("user-2")
	require.True(t, ok)
	assert.Equal(t, id, got)

	s.Remove("user-1")
	_, ok = s.Get("user-1")
	assert.False(t, ok)
	assert.Equal(t, 2, p.saves)
}

func TestStore_TouchAndSnapshot(t *testing.T) {
	s := Open(nil, nil)
	_, err := s.Set("b", "thread_bbbbbbbbbbbb")
	require.NoError(t, err)
	_, err = s.Set("a", "thread_aaaaaaaaaaaa")
	require.NoError(t, err)

	before := s.Snapshot()
	require.Len(t, before, 2)
	assert.Equal(t, "a", before[0].UserID)
	assert.Equal(t, "b", before[1].UserID)

	s.Touch("a")
	s.Touch("missing")
	after := s.Snapshot()
	assert.False(t, after[0].LastUsedAt.Before(before[0].LastUsedAt))
	assert.Equal(t, before[0].CreatedAt, after[0].CreatedAt)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := Open(NewJSONFile(filepath.Join(t.TempDir(), "sessions.json")), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := string(rune('a' + n))
			_, _ = s.Set(user, validID)
			s.Get(user)
			s.IsFirstInteraction(user)
			if n%2 == 0 {
				s.Remove(user)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, s.Len())
}
