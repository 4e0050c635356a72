package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "monitors.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	return s, path
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	s, path := openTestStore(t)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.List())

	_, err := os.Stat(filepath.Dir(path))
	assert.NoError(t, err, "parent directory should be created")
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitors.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path, nil)
	assert.Error(t, err)
}

func TestAddLookupRemove(t *testing.T) {
	s, _ := openTestStore(t)

	e, err := s.Add("http://internal:3000/alice/app", "s3cr3t", "111")
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, "alice/app", e.Path())
	assert.Equal(t, 1, s.Len())

	got, ok := s.Lookup("https://ext.example.com/alice/app")
	require.True(t, ok)
	assert.Equal(t, "s3cr3t", got.Secret)
	assert.Equal(t, "111", got.Group)

	removed, err := s.Remove("https://ext.example.com/alice/app.git")
	require.NoError(t, err)
	assert.Equal(t, e.ID, removed.ID)
	assert.Equal(t, 0, s.Len())

	_, ok = s.Lookup("http://internal:3000/alice/app")
	assert.False(t, ok)
}

func TestAdd_DuplicatePathRejected(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.Add("http://internal:3000/alice/app", "a", "111")
	require.NoError(t, err)

	_, err = s.Add("https://ext.example.com/alice/app.git", "b", "222")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.Equal(t, 1, s.Len(), "set size must be unchanged")

	got, ok := s.Lookup("alice/app")
	require.True(t, ok)
	assert.Equal(t, "a", got.Secret)
}

func TestAdd_Validation(t *testing.T) {
	s, _ := openTestStore(t)

	tests := []struct {
		name, url, secret, group string
	}{
		{"no url", "", "s", "1"},
		{"no path", "https://h", "s", "1"},
		{"no secret", "https://h/a/b", "", "1"},
		{"no group", "https://h/a/b", "s", "  "},
		{"group with space", "https://h/a/b", "s", "1 2"},
		{"browser branch url", "https://h/alice/app/src/branch/main", "s", "1"},
		{"browser issue url", "https://h/alice/app/issues/3", "s", "1"},
		{"dash route", "https://h/alice/app/-/packages", "s", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Add(tt.url, tt.secret, tt.group)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
	assert.Equal(t, 0, s.Len())
}

func TestAdd_SubPathInstallAccepted(t *testing.T) {
	s, _ := openTestStore(t)

	e, err := s.Add("https://example.com/src/alice/app", "s", "1")
	require.NoError(t, err)
	assert.Equal(t, "alice/app", e.Path())
}

func TestRemove_NotFound(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Remove("https://h/alice/app")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPersistence_Reload(t *testing.T) {
	s, path := openTestStore(t)

	_, err := s.Add("https://h/alice/app", "s1", "111")
	require.NoError(t, err)
	_, err = s.Add("https://h/bob/lib", "s2", "222")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	want, got := s.List(), reopened.List()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].RepoURL, got[i].RepoURL)
		assert.Equal(t, want[i].Secret, got[i].Secret)
		assert.Equal(t, want[i].Group, got[i].Group)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
	}

	// no temp files left behind
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".monitors.json.*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestPersistence_LegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitors.json")
	legacy := `{
  "monitors": [
    {"repo_url": "https://gitea.example.com/alice/app", "secret": "s", "group_id": "123456", "created_at": "2024-05-01T10:00:00.123456"},
    {"repo_url": "https://gitea.example.com/bob/lib", "secret": "t", "group_id": "654321", "created_at": "2024-05-02T11:30:00"}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	first := s.List()[0]
	assert.Equal(t, "123456", first.Group)
	assert.Equal(t, 2024, first.CreatedAt.Year())
	assert.Equal(t, time.May, first.CreatedAt.Month())
	assert.Equal(t, 123456000, first.CreatedAt.Nanosecond())
	assert.Empty(t, first.ID)
}

func TestPersistence_DuplicatesInFileFirstWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitors.json")
	doc := `{"monitors":[
  {"repo_url":"https://a/alice/app","secret":"first","group_id":"1","created_at":""},
  {"repo_url":"https://b/alice/app","secret":"second","group_id":"2","created_at":""}
]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	got, ok := s.Lookup("https://c/alice/app")
	require.True(t, ok)
	assert.Equal(t, "first", got.Secret)

	matched, ok := Match("https://c/alice/app", s.List())
	require.True(t, ok)
	assert.Equal(t, got, matched, "Lookup and Match resolve the same entry")

	// remove drops both so the path is no longer monitored anywhere
	_, err = s.Remove("alice/app")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestPersistFailure_KeepsInMemoryState(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "monitors.json")
	s, err := Open(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	e, err := s.Add("https://h/alice/app", "s", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersist))
	assert.Equal(t, "alice/app", e.Path())

	_, ok := s.Lookup("https://h/alice/app")
	assert.True(t, ok, "in-memory add must not be rolled back")
}

func TestEntryJSON(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Entry{ID: "id-1", RepoURL: "https://h/a/b", Secret: "s", Group: "9", CreatedAt: created}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id-1","repo_url":"https://h/a/b","secret":"s","group_id":"9","created_at":"2025-03-01T12:00:00Z"}`, string(data))

	var back Entry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, created.Equal(back.CreatedAt))

	assert.Error(t, json.Unmarshal([]byte(`{"repo_url":"x","created_at":"yesterday"}`), &back))
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.Add("https://h/stable/repo", "s", "1")
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, ok := s.Lookup("https://x/stable/repo"); !ok {
					t.Error("stable entry disappeared")
					return
				}
				for _, e := range s.List() {
					if e.Secret == "" {
						t.Error("observed partially built entry")
						return
					}
				}
			}
		}()
	}

	var ww sync.WaitGroup
	for w := 0; w < writers; w++ {
		ww.Add(1)
		go func(w int) {
			defer ww.Done()
			url := fmt.Sprintf("https://h/owner%d/repo", w)
			for i := 0; i < 5; i++ {
				if _, err := s.Add(url, "s", "1"); err != nil {
					t.Errorf("add %s: %v", url, err)
					return
				}
				if _, err := s.Remove(url); err != nil {
					t.Errorf("remove %s: %v", url, err)
					return
				}
			}
		}(w)
	}
	ww.Wait()
	close(stop)
	wg.Wait()

	assert.Equal(t, 1, s.Len())
}
