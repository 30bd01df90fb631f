package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"modsmith/internal/artifact"
)

type fakeOriginStore struct {
	mu sync.Mutex

	runs map[string]artifact.Tree

	saveCalls int
	loadCalls int
	linkCalls int

	failSave bool
	linkBase string
}

func newFakeOriginStore() *fakeOriginStore {
	return &fakeOriginStore{runs: map[string]artifact.Tree{}}
}

func (s *fakeOriginStore) Save(_ context.Context, runID string, tree artifact.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.failSave {
		return fmt.Errorf("save failed")
	}
	s.runs[runID] = tree
	return nil
}

func (s *fakeOriginStore) Load(_ context.Context, runID string) (artifact.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	tree, ok := s.runs[runID]
	if !ok {
		return artifact.Tree{}, ErrNotFound
	}
	return tree, nil
}

func (s *fakeOriginStore) Link(_ context.Context, runID, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkCalls++
	if s.linkBase == "" {
		return "", nil
	}
	return fmt.Sprintf("%s/%s/%s?n=%d", s.linkBase, runID, path, s.linkCalls), nil
}

func moduleTree(t *testing.T) artifact.Tree {
	t.Helper()
	tree, err := artifact.NewTree(map[string][]byte{
		"examples/go/main.go":     []byte("package main"),
		"examples/go/dagger.json": []byte("{}"),
	})
	require.NoError(t, err)
	return tree
}

func TestCachedStoreLoadsOriginOnce(t *testing.T) {
	ctx := context.Background()
	id := NewRunID()
	origin := newFakeOriginStore()
	origin.runs[id] = moduleTree(t)
	s := NewCachedStore(origin, DefaultCacheConfig())

	for i := 0; i < 3; i++ {
		tree, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, tree.Len())
	}
	assert.Equal(t, 1, origin.loadCalls)
	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.TreeHits)
	assert.Equal(t, uint64(1), stats.TreeMisses)
	assert.Equal(t, uint64(1), stats.OriginLoads)
}

func TestCachedStoreSaveServesLoadsAndDropsLinks(t *testing.T) {
	ctx := context.Background()
	id := NewRunID()
	origin := newFakeOriginStore()
	origin.linkBase = "https://cdn.example"
	s := NewCachedStore(origin, DefaultCacheConfig())
	require.NoError(t, s.Save(ctx, id, moduleTree(t)))

	first, err := s.Link(ctx, id, "examples/go/main.go")
	require.NoError(t, err)
	again, err := s.Link(ctx, id, "./examples/go/main.go")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, origin.linkCalls)

	require.NoError(t, s.Save(ctx, id, moduleTree(t)))
	fresh, err := s.Link(ctx, id, "examples/go/main.go")
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)

	_, err = s.Load(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, origin.loadCalls)

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Saves)
	assert.Equal(t, uint64(1), stats.LinkHits)
	assert.Equal(t, uint64(2), stats.LinkMisses)
}

func TestCachedStoreCountsErrors(t *testing.T) {
	ctx := context.Background()
	origin := newFakeOriginStore()
	origin.failSave = true
	s := NewCachedStore(origin, DefaultCacheConfig())

	require.Error(t, s.Save(ctx, NewRunID(), moduleTree(t)))
	_, err := s.Load(ctx, NewRunID())
	require.ErrorIs(t, err, ErrNotFound)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.SaveErrors)
	assert.Equal(t, uint64(1), stats.LoadErrors)
}

func TestCachedStoreLinksSkipsUnlinkable(t *testing.T) {
	ctx := context.Background()
	id := NewRunID()
	tree := moduleTree(t)

	s := NewCachedStore(newFakeOriginStore(), DefaultCacheConfig())
	links, err := s.Links(ctx, id, tree)
	require.NoError(t, err)
	assert.Empty(t, links)

	origin := newFakeOriginStore()
	origin.linkBase = "https://cdn.example"
	s = NewCachedStore(origin, DefaultCacheConfig())
	links, err = s.Links(ctx, id, tree)
	require.NoError(t, err)
	assert.Len(t, links, 2)
	assert.Contains(t, links["examples/go/dagger.json"], id+"/examples/go/dagger.json")
}

func TestCacheStatsLogFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	zap.New(core).Info("artifact store", zap.Object("stats", CacheStats{TreeHits: 3, Saves: 1}))

	entries := logs.All()
	require.Len(t, entries, 1)
	stats, ok := entries[0].ContextMap()["stats"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, uint64(3), stats["tree_hits"])
	assert.Equal(t, uint64(1), stats["saves"])
}

func TestSaveAndLoadRoundTripAcrossStores(t *testing.T) {
	ctx := context.Background()
	tree := moduleTree(t)

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"disk":   NewDiskStore(t.TempDir()),
		"cached": NewCachedStore(NewMemoryStore(), DefaultCacheConfig()),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			id := NewRunID()
			require.NoError(t, s.Save(ctx, id, tree))
			back, err := s.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, tree.Paths(), back.Paths())
			got, err := back.File("examples/go/main.go")
			require.NoError(t, err)
			assert.Equal(t, "package main", got)

			_, err = s.Load(ctx, NewRunID())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoresValidateRunIDs(t *testing.T) {
	ctx := context.Background()
	tree := moduleTree(t)
	stores := map[string]Store{
		"memory":   NewMemoryStore(),
		"disk":     NewDiskStore(t.TempDir()),
		"postgres": NewPostgresStore(nil),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"", "../r", "run-1"} {
				assert.ErrorIs(t, s.Save(ctx, id, tree), ErrBadRunID, id)
				_, err := s.Load(ctx, id)
				assert.ErrorIs(t, err, ErrBadRunID, id)
			}
			assert.ErrorIs(t, s.Save(ctx, NewRunID(), artifact.Tree{}), ErrEmptyTree)
			_, err := s.Link(ctx, NewRunID(), "../escape")
			assert.Error(t, err)
		})
	}
}

func TestDiskStoreLayoutAndLinks(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewDiskStore(root)
	id := NewRunID()
	require.NoError(t, s.Save(ctx, id, moduleTree(t)))

	raw, err := os.ReadFile(filepath.Join(root, id, "examples", "go", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(raw))
	_, err = os.Stat(filepath.Join(root, ".staging-"+id))
	assert.True(t, os.IsNotExist(err))

	link, err := s.Link(ctx, id, "examples/go/main.go")
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)
	assert.Equal(t, filepath.Join(root, id, "examples", "go", "main.go"), filepath.FromSlash(u.Path))

	_, err = s.Link(ctx, id, "examples/go/missing.go")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Link(ctx, NewRunID(), "examples/go/main.go")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiskStoreSaveReplacesRun(t *testing.T) {
	ctx := context.Background()
	s := NewDiskStore(t.TempDir())
	id := NewRunID()
	require.NoError(t, s.Save(ctx, id, moduleTree(t)))

	only, err := artifact.NewTree(map[string][]byte{"main.py": []byte("x")})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, id, only))

	back, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, back.Paths())
}

func TestOpenFallsBackToDiskAndMemory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, Options{Dir: dir}, nil)
	require.NoError(t, err)
	id := NewRunID()
	require.NoError(t, s.Save(ctx, id, moduleTree(t)))
	require.NoError(t, s.Close())
	_, err = os.Stat(filepath.Join(dir, id))
	require.NoError(t, err)

	s, err = Open(ctx, Options{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, NewRunID(), moduleTree(t)))
	require.NoError(t, s.Close())
}

func TestS3ConfigComplete(t *testing.T) {
	assert.False(t, S3Config{Endpoint: "minio:9000"}.Complete())
	assert.True(t, S3Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"}.Complete())
	_, err := NewS3Store(S3Config{Endpoint: "minio:9000"})
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("dagger.json"))
	assert.Equal(t, "text/plain; charset=utf-8", contentType("Dockerfile"))
}
