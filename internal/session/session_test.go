package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cchalm/applybot/internal/project"
	"github.com/cchalm/applybot/internal/workspace"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTrack_AnnotatesLatestUserMessage(t *testing.T) {
	conv := &Conversation{}
	conv.AddMessage(RoleUser, "make a landing page", t0)
	conv.AddMessage(RoleUser, "add a hero", t0.Add(time.Minute))
	conv.AddMessage(RoleAssistant, "<file path=...>", t0.Add(2*time.Minute))

	conv.Track("Added a hero section", []string{"src/components/Hero.jsx"}, t0.Add(3*time.Minute))

	require.Nil(t, conv.Messages[0].Metadata.EditedFiles)
	require.Equal(t, []string{"src/components/Hero.jsx"}, conv.Messages[1].Metadata.EditedFiles)
	require.Nil(t, conv.Messages[2].Metadata.EditedFiles)
	require.Equal(t, []MajorChange{{
		Timestamp:     t0.Add(3 * time.Minute),
		Description:   "Added a hero section",
		FilesAffected: []string{"src/components/Hero.jsx"},
	}}, conv.Evolution.MajorChanges)
	require.Equal(t, t0.Add(3*time.Minute), conv.LastUpdated)
}

func TestTrack_DefaultDescription(t *testing.T) {
	conv := &Conversation{}

	conv.Track("  ", []string{"src/App.jsx"}, t0)

	require.Equal(t, DefaultChangeDescription, conv.Evolution.MajorChanges[0].Description)
}

func TestTrack_CopiesFiles(t *testing.T) {
	conv := &Conversation{}
	files := []string{"a"}

	conv.Track("x", files, t0)
	files[0] = "mutated"

	require.Equal(t, []string{"a"}, conv.Evolution.MajorChanges[0].FilesAffected)
}

func TestSummarize(t *testing.T) {
	require.Equal(t, "Built a landing page with a hero.", Summarize("Built a **landing page** with a hero.\n\n- item one\n- item two"))
	require.Equal(t, "Overview", Summarize("# Overview\n\nDetails here"))
	require.Equal(t, "", Summarize(""))
}

func TestRecentChanges(t *testing.T) {
	conv := &Conversation{}
	conv.Track("First change", []string{"src/A.jsx"}, t0)
	conv.Track("Second change\n\nwith detail", []string{"src/B.jsx", "src/C.jsx"}, t0.Add(time.Hour))
	conv.Track("Third change", nil, t0.Add(2*time.Hour))

	out, err := conv.RecentChanges(2)
	require.NoError(t, err)
	require.Equal(t, `Recent changes to this project:
- 2025-03-01T13:00:00Z: Second change (src/B.jsx, src/C.jsx)
- 2025-03-01T14:00:00Z: Third change
`, out)
}

func TestRecentChanges_Empty(t *testing.T) {
	out, err := (&Conversation{}).RecentChanges(5)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestSession_LockSerializes(t *testing.T) {
	s := New(workspace.NewMemorySandbox(nil), nil, nil)

	unlock, err := s.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	unlock2, err := s.Lock(context.Background())
	require.NoError(t, err)
	unlock2()
}

func TestSnapshotRestore(t *testing.T) {
	conv := &Conversation{}
	conv.AddMessage(RoleUser, "hi", t0)
	s := New(workspace.NewMemorySandbox(nil), project.NewFileIndex("src/App.jsx"), conv)

	restored := Restore(s.Snapshot(), workspace.NewMemorySandbox(nil))

	require.Equal(t, s.ID, restored.ID)
	require.True(t, restored.Index.Has("src/App.jsx"))
	require.Len(t, restored.Conversation.Messages, 1)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	s := New(workspace.NewMemorySandbox(nil), nil, nil)
	r.Add(s)

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	require.Same(t, s, got)
	require.Equal(t, []string{s.ID}, r.IDs())

	r.Remove(s.ID)
	_, err = r.Get(s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSnapshot_IndependentOfLiveConversation(t *testing.T) {
	conv := &Conversation{}
	conv.AddMessage(RoleUser, "add a hero", t0)
	conv.Track("first", []string{"src/components/Hero.jsx"}, t0)
	s := New(workspace.NewMemorySandbox(nil), nil, conv)

	snap := s.Snapshot()
	conv.Messages[0].Metadata.EditedFiles[0] = "src/changed.jsx"
	conv.Track("second", []string{"src/components/Footer.jsx"}, t0.Add(time.Minute))

	require.Equal(t, []string{"src/components/Hero.jsx"}, snap.Conversation.Messages[0].Metadata.EditedFiles)
	require.Len(t, snap.Conversation.Evolution.MajorChanges, 1)
	require.Equal(t, []string{"src/components/Hero.jsx"}, snap.Conversation.Evolution.MajorChanges[0].FilesAffected)
}

func TestSnapshot_ConcurrentWithTrack(t *testing.T) {
	conv := &Conversation{}
	conv.AddMessage(RoleUser, "build it", t0)
	s := New(workspace.NewMemorySandbox(nil), nil, conv)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			unlock, err := s.Lock(ctx)
			if err != nil {
				return
			}
			conv.Track("change", []string{"src/App.jsx"}, t0)
			unlock()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			unlock, err := s.Lock(ctx)
			if err != nil {
				return
			}
			snap := s.Snapshot()
			unlock()
			_, _ = json.Marshal(snap)
		}
	}()
	wg.Wait()

	require.Len(t, conv.Evolution.MajorChanges, 200)
}

func TestRegistry_GetOrAdd(t *testing.T) {
	r := NewRegistry()
	snap := Snapshot{ID: "restored", CreatedAt: t0}

	const n = 16
	got := make([]*Session, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], _ = r.GetOrAdd(Restore(snap, nil))
		}()
	}
	wg.Wait()

	registered, err := r.Get("restored")
	require.NoError(t, err)
	for _, s := range got {
		require.Same(t, registered, s)
	}

	_, added := r.GetOrAdd(Restore(snap, nil))
	require.False(t, added)
}

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	fileStore, err := NewFileStore(filepath.Join(dir, "sessions"))
	require.NoError(t, err)
	sqliteStore, err := OpenSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })
	return map[string]Store{"file": fileStore, "sqlite": sqliteStore}
}

func TestStores_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			require.Nil(t, got)

			conv := &Conversation{}
			conv.Track("Initial build", []string{"src/App.jsx"}, t0)
			snap := Snapshot{ID: "abc", CreatedAt: t0, Files: []string{"src/App.jsx"}, Conversation: conv}

			require.NoError(t, store.Set(ctx, "abc", snap))
			snap.Files = append(snap.Files, "src/index.css")
			require.NoError(t, store.Set(ctx, "abc", snap))

			got, err = store.Get(ctx, "abc")
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Equal(t, []string{"src/App.jsx", "src/index.css"}, got.Files)
			require.Equal(t, "Initial build", got.Conversation.Evolution.MajorChanges[0].Description)
			require.True(t, t0.Equal(got.CreatedAt))

			require.NoError(t, store.Delete(ctx, "abc"))
			got, err = store.Get(ctx, "abc")
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}
