package history

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxtriage/internal/logging"
	"github.com/teemow/inboxtriage/internal/triageerr"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, b Backend) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(b, Options{Logger: logging.Nop(), Now: clock.Now}), clock
}

// failingBackend wraps a MemoryBackend and fails Save with the queued errors.
type failingBackend struct {
	*MemoryBackend
	saveErrs  []error
	deleteErr error
	saves     int
	prunes    int
}

func (f *failingBackend) Save(ctx context.Context, id string, data []byte, at time.Time) error {
	f.saves++
	if len(f.saveErrs) > 0 {
		err := f.saveErrs[0]
		f.saveErrs = f.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	return f.MemoryBackend.Save(ctx, id, data, at)
}

func (f *failingBackend) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryBackend.Delete(ctx, id)
}

func (f *failingBackend) Prune(ctx context.Context, olderThan time.Time, keep int) (int, error) {
	f.prunes++
	return f.MemoryBackend.Prune(ctx, olderThan, keep)
}

func TestStore_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, NewMemoryBackend(0))

	entries, w := s.Append(ctx, "t1", RoleUser, "reply politely")
	require.Nil(t, w)
	assert.Len(t, entries, 1)

	entries, w = s.Append(ctx, "t1", RoleAssistant, "Hi Bob, thanks.")
	require.Nil(t, w)
	assert.Equal(t, []Entry{
		{Role: RoleUser, Content: "reply politely"},
		{Role: RoleAssistant, Content: "Hi Bob, thanks."},
	}, entries)

	require.Nil(t, s.UpdateDraft(ctx, "t1", "Hi Bob, thanks."))

	rec := s.Read(ctx, "t1")
	assert.Equal(t, "t1", rec.ThreadID)
	assert.Equal(t, entries, rec.Entries)
	assert.Equal(t, "Hi Bob, thanks.", rec.CurrentDraft)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestStore_Commit(t *testing.T) {
	ctx := context.Background()
	b := &failingBackend{MemoryBackend: NewMemoryBackend(0)}
	s, _ := newTestStore(t, b)

	require.Nil(t, s.Commit(ctx, "t1", true, "d1", Entry{Role: RoleAssistant, Content: "d1"}))
	require.Nil(t, s.Commit(ctx, "t1", false, "d2",
		Entry{Role: RoleUser, Content: "shorter"},
		Entry{Role: RoleAssistant, Content: "d2"}))
	assert.Equal(t, 2, b.saves)

	rec := s.Read(ctx, "t1")
	assert.Equal(t, []Entry{
		{Role: RoleAssistant, Content: "d1"},
		{Role: RoleUser, Content: "shorter"},
		{Role: RoleAssistant, Content: "d2"},
	}, rec.Entries)
	assert.Equal(t, "d2", rec.CurrentDraft)

	// A reset starts the conversation over.
	require.Nil(t, s.Commit(ctx, "t1", true, "fresh", Entry{Role: RoleAssistant, Content: "fresh"}))
	rec = s.Read(ctx, "t1")
	assert.Equal(t, []Entry{{Role: RoleAssistant, Content: "fresh"}}, rec.Entries)
	assert.Equal(t, "fresh", rec.CurrentDraft)
}

func TestStore_ReadMissingIsEmpty(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(0))
	rec := s.Read(context.Background(), "nope")
	assert.True(t, rec.Empty())
	assert.Equal(t, "nope", rec.ThreadID)
}

func TestStore_ReadDiscardsInvalidData(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{{{"},
		{"wrong shape", `{"entries": "nope"}`},
		{"bad role", `{"version":1,"thread_id":"t1","entries":[{"role":"system","content":"x"}],"current_draft":"","updated_at":"2026-01-01T00:00:00Z"}`},
		{"other thread", `{"version":1,"thread_id":"t2","entries":[],"current_draft":"","updated_at":"2026-01-01T00:00:00Z"}`},
		{"future version", `{"version":2,"thread_id":"t1","entries":[],"current_draft":"","updated_at":"2026-01-01T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b := NewMemoryBackend(0)
			require.NoError(t, b.Save(ctx, "t1", []byte(tt.data), time.Now()))
			s, _ := newTestStore(t, b)

			assert.True(t, s.Read(ctx, "t1").Empty())

			// A later append starts over rather than failing.
			entries, w := s.Append(ctx, "t1", RoleUser, "again")
			require.Nil(t, w)
			assert.Len(t, entries, 1)
		})
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(0)
	s, _ := newTestStore(t, b)

	_, _ = s.Append(ctx, "t1", RoleUser, "x")
	require.Nil(t, s.Clear(ctx, "t1"))
	assert.True(t, s.Read(ctx, "t1").Empty())
	assert.Equal(t, 0, b.Len())

	// Clearing twice is fine.
	assert.Nil(t, s.Clear(ctx, "t1"))
}

func TestStore_CapacityPrunesAndRetriesOnce(t *testing.T) {
	ctx := context.Background()
	b := &failingBackend{MemoryBackend: NewMemoryBackend(0), saveErrs: []error{ErrCapacity}}
	s, clock := newTestStore(t, b)

	old := clock.now.Add(-40 * 24 * time.Hour)
	require.NoError(t, b.MemoryBackend.Save(ctx, "stale", []byte("{}"), old))

	_, w := s.Append(ctx, "t1", RoleUser, "hello")
	require.Nil(t, w)
	assert.Equal(t, 2, b.saves)
	assert.Equal(t, 1, b.prunes)

	_, err := b.Load(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "hello", s.Read(ctx, "t1").Entries[0].Content)
}

func TestStore_CapacityAfterPruneKeepsMemoryCopy(t *testing.T) {
	ctx := context.Background()
	b := &failingBackend{
		MemoryBackend: NewMemoryBackend(0),
		saveErrs:      []error{ErrCapacity, ErrCapacity},
	}
	s, _ := newTestStore(t, b)

	entries, w := s.Append(ctx, "t1", RoleUser, "hello")
	require.NotNil(t, w)
	assert.Equal(t, "append", w.Op)
	assert.ErrorIs(t, w, ErrCapacity)
	var se *triageerr.StorageError
	assert.ErrorAs(t, w, &se)
	assert.Equal(t, triageerr.KindStorage, triageerr.Kind(w))

	// The entry is not lost for the session.
	assert.Len(t, entries, 1)
	assert.Equal(t, "hello", s.Read(ctx, "t1").Entries[0].Content)

	// Once the backend recovers, the next write persists everything.
	_, w = s.Append(ctx, "t1", RoleAssistant, "draft")
	require.Nil(t, w)
	data, err := b.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "draft")
}

func TestStore_OtherErrorsDoNotPrune(t *testing.T) {
	ctx := context.Background()
	b := &failingBackend{MemoryBackend: NewMemoryBackend(0), saveErrs: []error{errors.New("disk on fire")}}
	s, _ := newTestStore(t, b)

	w := s.UpdateDraft(ctx, "t1", "text")
	require.NotNil(t, w)
	assert.Equal(t, 0, b.prunes)
	assert.Equal(t, "text", s.Read(ctx, "t1").CurrentDraft)
}

func TestStore_ClearFailureHidesStaleCopy(t *testing.T) {
	ctx := context.Background()
	b := &failingBackend{MemoryBackend: NewMemoryBackend(0)}
	s, _ := newTestStore(t, b)

	_, _ = s.Append(ctx, "t1", RoleUser, "x")
	b.deleteErr = errors.New("locked")

	w := s.Clear(ctx, "t1")
	require.NotNil(t, w)
	assert.True(t, s.Read(ctx, "t1").Empty())
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(0)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(b, Options{MaxAge: 24 * time.Hour, MaxThreads: 2, Logger: logging.Nop(), Now: clock.Now})

	for i, id := range []string{"a", "b", "c", "d"} {
		clock.now = clock.now.Add(time.Duration(i) * time.Hour)
		_, _ = s.Append(ctx, id, RoleUser, id)
	}
	clock.now = clock.now.Add(time.Hour)

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, s.Read(ctx, "a").Empty())
	assert.True(t, s.Read(ctx, "b").Empty())
	assert.False(t, s.Read(ctx, "d").Empty())
}

func TestStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	b, err := OpenSQLite(ctx, path, SQLiteOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	s, clock := newTestStore(t, b)
	_, w := s.Append(ctx, "t1", RoleUser, "keep it short")
	require.Nil(t, w)
	require.Nil(t, s.UpdateDraft(ctx, "t1", "Sounds good."))

	rec := s.Read(ctx, "t1")
	assert.Equal(t, "Sounds good.", rec.CurrentDraft)
	assert.Equal(t, RoleUser, rec.Entries[0].Role)

	// A fresh store over the same database sees the same record.
	b2, err := OpenSQLite(ctx, path, SQLiteOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b2.Close() })
	s2 := NewStore(b2, Options{Logger: logging.Nop(), Now: clock.Now})
	assert.Equal(t, rec.Entries, s2.Read(ctx, "t1").Entries)

	require.Nil(t, s.Clear(ctx, "t1"))
	_, err = b.Load(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteBackend_Prune(t *testing.T) {
	ctx := context.Background()
	b, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "h.db"), SQLiteOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, b.Save(ctx, id, []byte("{}"), base.Add(time.Duration(i)*time.Hour)))
	}

	// "a" is too old, then only the two newest of the rest survive.
	n, err := b.Prune(ctx, base.Add(30*time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range []string{"a", "b", "c"} {
		_, err := b.Load(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
	for _, id := range []string{"d", "e"} {
		_, err := b.Load(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestSQLiteBackend_FullMapsToCapacity(t *testing.T) {
	ctx := context.Background()
	b, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "h.db"), SQLiteOptions{MaxPageCount: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	big := []byte(strings.Repeat("x", 64*1024))
	var saveErr error
	for i := 0; i < 10 && saveErr == nil; i++ {
		saveErr = b.Save(ctx, string(rune('a'+i)), big, time.Now())
	}
	assert.ErrorIs(t, saveErr, ErrCapacity)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), " ", SQLiteOptions{})
	assert.Error(t, err)
}

func TestOpenValkey_RequiresURL(t *testing.T) {
	_, err := OpenValkey(ValkeyConfig{})
	assert.Error(t, err)
}

func TestMemoryBackend_MaxBytes(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(10)
	require.NoError(t, b.Save(ctx, "a", []byte("12345"), time.Now()))
	require.NoError(t, b.Save(ctx, "a", []byte("1234567890"), time.Now()))
	assert.ErrorIs(t, b.Save(ctx, "b", []byte("1"), time.Now()), ErrCapacity)

	require.NoError(t, b.Delete(ctx, "a"))
	assert.NoError(t, b.Save(ctx, "b", []byte("1"), time.Now()))
}
