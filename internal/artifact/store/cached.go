package store

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap/zapcore"

	"modsmith/internal/artifact"
)

type CacheConfig struct {
	TTL      time.Duration
	MaxRuns  int
	MaxLinks int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 10 * time.Minute, MaxRuns: 64, MaxLinks: 1024}
}

// CacheStats counts cache and origin traffic since the store was built.
type CacheStats struct {
	TreeHits    uint64
	TreeMisses  uint64
	LinkHits    uint64
	LinkMisses  uint64
	Saves       uint64
	SaveErrors  uint64
	OriginLoads uint64
	LoadErrors  uint64
}

func (s CacheStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("tree_hits", s.TreeHits)
	enc.AddUint64("tree_misses", s.TreeMisses)
	enc.AddUint64("link_hits", s.LinkHits)
	enc.AddUint64("link_misses", s.LinkMisses)
	enc.AddUint64("saves", s.Saves)
	enc.AddUint64("save_errors", s.SaveErrors)
	enc.AddUint64("origin_loads", s.OriginLoads)
	enc.AddUint64("load_errors", s.LoadErrors)
	return nil
}

type counters struct {
	treeHits, treeMisses    atomic.Uint64
	linkHits, linkMisses    atomic.Uint64
	saves, saveErrors       atomic.Uint64
	originLoads, loadErrors atomic.Uint64
}

// CachedStore keeps recently saved or loaded trees and handed-out links in
// front of an origin Store. Saving a run drops its cached links.
type CachedStore struct {
	origin Store
	close  func() error

	trees *expirable.LRU[string, artifact.Tree]
	links *expirable.LRU[string, string]
	stats counters
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = def.MaxRuns
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = def.MaxLinks
	}
	return &CachedStore{
		origin: origin,
		trees:  expirable.NewLRU[string, artifact.Tree](cfg.MaxRuns, nil, cfg.TTL),
		links:  expirable.NewLRU[string, string](cfg.MaxLinks, nil, cfg.TTL),
	}
}

func (s *CachedStore) Save(ctx context.Context, runID string, tree artifact.Tree) error {
	s.stats.saves.Add(1)
	if err := s.origin.Save(ctx, runID, tree); err != nil {
		s.stats.saveErrors.Add(1)
		return err
	}
	id, _ := runKey(runID)
	s.trees.Add(id, tree)
	for _, key := range s.links.Keys() {
		if strings.HasPrefix(key, id+"/") {
			s.links.Remove(key)
		}
	}
	return nil
}

func (s *CachedStore) Load(ctx context.Context, runID string) (artifact.Tree, error) {
	id, err := runKey(runID)
	if err != nil {
		return artifact.Tree{}, err
	}
	if tree, ok := s.trees.Get(id); ok {
		s.stats.treeHits.Add(1)
		return tree, nil
	}
	s.stats.treeMisses.Add(1)
	s.stats.originLoads.Add(1)
	tree, err := s.origin.Load(ctx, id)
	if err != nil {
		s.stats.loadErrors.Add(1)
		return artifact.Tree{}, err
	}
	s.trees.Add(id, tree)
	return tree, nil
}

// Link caches non-empty links for the cache TTL. S3 links outlive it.
func (s *CachedStore) Link(ctx context.Context, runID, path string) (string, error) {
	id, clean, err := fileKey(runID, path)
	if err != nil {
		return "", err
	}
	key := id + "/" + clean
	if link, ok := s.links.Get(key); ok {
		s.stats.linkHits.Add(1)
		return link, nil
	}
	s.stats.linkMisses.Add(1)
	link, err := s.origin.Link(ctx, id, clean)
	if err != nil {
		return "", err
	}
	if link != "" {
		s.links.Add(key, link)
	}
	return link, nil
}

// Links returns a link per file of tree, skipping files the origin cannot
// link to.
func (s *CachedStore) Links(ctx context.Context, runID string, tree artifact.Tree) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range tree.Paths() {
		link, err := s.Link(ctx, runID, p)
		if err != nil {
			return nil, err
		}
		if link != "" {
			out[p] = link
		}
	}
	return out, nil
}

func (s *CachedStore) Stats() CacheStats {
	if s == nil {
		return CacheStats{}
	}
	c := &s.stats
	return CacheStats{
		TreeHits:    c.treeHits.Load(),
		TreeMisses:  c.treeMisses.Load(),
		LinkHits:    c.linkHits.Load(),
		LinkMisses:  c.linkMisses.Load(),
		Saves:       c.saves.Load(),
		SaveErrors:  c.saveErrors.Load(),
		OriginLoads: c.originLoads.Load(),
		LoadErrors:  c.loadErrors.Load(),
	}
}

// Close releases the origin's resources.
func (s *CachedStore) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}
