package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/store/cache"
)

// Store provides database access to all raw memory objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Cache settings
	cacheConfig cache.Config

	// Caches
	episodeCache   *cache.Tiered // episodes by UID
	procedureCache *cache.Cache  // procedures by task type
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
		OnEviction:      nil,
	}

	var l2 cache.RedisCacheInterface = cache.NewNilRedisCache()
	if profile.CacheRedisAddr != "" {
		redisCache, err := cache.NewRedisCache(cache.DefaultRedisConfig(profile.CacheRedisAddr))
		if err != nil {
			slog.Warn("redis cache unavailable, falling back to in-memory only", "addr", profile.CacheRedisAddr, "error", err)
		} else {
			l2 = redisCache
		}
	}

	return &Store{
		driver:         driver,
		profile:        profile,
		cacheConfig:    cacheConfig,
		episodeCache:   cache.NewTiered(cache.New(cacheConfig), l2),
		procedureCache: cache.New(cacheConfig),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Profile() *profile.Profile {
	return s.profile
}

func (s *Store) Close() error {
	s.procedureCache.Close()
	if err := s.episodeCache.Close(); err != nil {
		return err
	}
	return s.driver.Close()
}

func (s *Store) CreateEpisode(ctx context.Context, create *Episode) (*Episode, error) {
	episode, err := s.driver.CreateEpisode(ctx, create)
	if err != nil {
		return nil, err
	}
	s.episodeCache.Set(ctx, episode.UID, episode)
	return episode, nil
}

func (s *Store) ListEpisodes(ctx context.Context, find *FindEpisode) ([]*Episode, error) {
	return s.driver.ListEpisodes(ctx, find)
}

// GetEpisodeByUID returns a single episode, consulting the cache first.
func (s *Store) GetEpisodeByUID(ctx context.Context, uid string) (*Episode, error) {
	var cached Episode
	if v, ok := s.episodeCache.Get(ctx, uid, &cached); ok {
		if episode, ok := v.(*Episode); ok {
			return episode, nil
		}
	}

	list, err := s.driver.ListEpisodes(ctx, &FindEpisode{UID: &uid, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.episodeCache.Set(ctx, uid, list[0])
	return list[0], nil
}

func (s *Store) UpdateEpisode(ctx context.Context, update *UpdateEpisode) error {
	if err := s.driver.UpdateEpisode(ctx, update); err != nil {
		return err
	}
	s.invalidateEpisodeByID(ctx, update.ID)
	return nil
}

func (s *Store) UpdateEpisodeEmbedding(ctx context.Context, id int64, embedding []float32) error {
	if err := s.driver.UpdateEpisodeEmbedding(ctx, id, embedding); err != nil {
		return err
	}
	s.invalidateEpisodeByID(ctx, id)
	return nil
}

// VectorSearchEpisodes runs similarity search inside the database when the
// driver supports it (pgvector on postgres).
func (s *Store) VectorSearchEpisodes(ctx context.Context, opts *VectorSearchOptions) ([]*EpisodeWithScore, error) {
	return s.driver.VectorSearchEpisodes(ctx, opts)
}

func (s *Store) IncrementEpisodeAccess(ctx context.Context, uids []string) error {
	if err := s.driver.IncrementEpisodeAccess(ctx, uids); err != nil {
		return err
	}
	for _, uid := range uids {
		s.episodeCache.Delete(ctx, uid)
	}
	return nil
}

func (s *Store) DeleteEpisode(ctx context.Context, delete *DeleteEpisode) (int64, error) {
	count, err := s.driver.DeleteEpisode(ctx, delete)
	if err != nil {
		return 0, err
	}
	if delete.UID != nil {
		s.episodeCache.Delete(ctx, *delete.UID)
	}
	for _, uid := range delete.UIDs {
		s.episodeCache.Delete(ctx, uid)
	}
	if delete.ID != nil {
		s.invalidateEpisodeByID(ctx, *delete.ID)
	}
	return count, nil
}

// invalidateEpisodeByID drops any cached copy of the episode with the given
// ID. The cache is keyed by UID, so this is a lookup followed by a delete.
func (s *Store) invalidateEpisodeByID(ctx context.Context, id int64) {
	list, err := s.driver.ListEpisodes(ctx, &FindEpisode{ID: &id, Limit: 1})
	if err != nil || len(list) == 0 {
		return
	}
	s.episodeCache.Delete(ctx, list[0].UID)
}

func (s *Store) CreateSemanticItem(ctx context.Context, create *SemanticItem) (*SemanticItem, error) {
	return s.driver.CreateSemanticItem(ctx, create)
}

func (s *Store) ListSemanticItems(ctx context.Context, find *FindSemanticItem) ([]*SemanticItem, error) {
	return s.driver.ListSemanticItems(ctx, find)
}

func (s *Store) UpdateSemanticItem(ctx context.Context, update *UpdateSemanticItem) error {
	return s.driver.UpdateSemanticItem(ctx, update)
}

func (s *Store) DeleteSemanticItem(ctx context.Context, delete *DeleteSemanticItem) error {
	return s.driver.DeleteSemanticItem(ctx, delete)
}

func (s *Store) UpsertProcedure(ctx context.Context, upsert *Procedure) (*Procedure, error) {
	procedure, err := s.driver.UpsertProcedure(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.procedureCache.Set(ctx, string(procedure.TaskType), procedure)
	return procedure, nil
}

func (s *Store) ListProcedures(ctx context.Context, find *FindProcedure) ([]*Procedure, error) {
	return s.driver.ListProcedures(ctx, find)
}

// GetProcedureByTaskType returns the procedure for a task type, consulting the
// cache first.
func (s *Store) GetProcedureByTaskType(ctx context.Context, taskType TaskType) (*Procedure, error) {
	if v, ok := s.procedureCache.Get(ctx, string(taskType)); ok {
		if procedure, ok := v.(*Procedure); ok {
			return procedure, nil
		}
	}

	list, err := s.driver.ListProcedures(ctx, &FindProcedure{TaskType: &taskType, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	s.procedureCache.Set(ctx, string(taskType), list[0])
	return list[0], nil
}

func (s *Store) DeleteProcedure(ctx context.Context, delete *DeleteProcedure) error {
	if err := s.driver.DeleteProcedure(ctx, delete); err != nil {
		return err
	}
	if delete.TaskType != nil {
		s.procedureCache.Delete(ctx, string(*delete.TaskType))
	}
	return nil
}

func (s *Store) CreateLearning(ctx context.Context, create *Learning) (*Learning, error) {
	return s.driver.CreateLearning(ctx, create)
}

func (s *Store) ListLearnings(ctx context.Context, find *FindLearning) ([]*Learning, error) {
	return s.driver.ListLearnings(ctx, find)
}

func (s *Store) UpdateLearning(ctx context.Context, update *UpdateLearning) error {
	return s.driver.UpdateLearning(ctx, update)
}

func (s *Store) DeleteLearning(ctx context.Context, delete *DeleteLearning) error {
	return s.driver.DeleteLearning(ctx, delete)
}

func (s *Store) CreateCheckpoint(ctx context.Context, create *Checkpoint) (*Checkpoint, error) {
	return s.driver.CreateCheckpoint(ctx, create)
}

func (s *Store) ListCheckpoints(ctx context.Context, find *FindCheckpoint) ([]*Checkpoint, error) {
	return s.driver.ListCheckpoints(ctx, find)
}

func (s *Store) DeleteCheckpoint(ctx context.Context, delete *DeleteCheckpoint) error {
	return s.driver.DeleteCheckpoint(ctx, delete)
}

// ReplaceMemorySnapshot swaps in a full episode and semantic snapshot. All
// caches are dropped afterwards.
func (s *Store) ReplaceMemorySnapshot(ctx context.Context, episodes []*Episode, items []*SemanticItem) error {
	if err := s.driver.ReplaceMemorySnapshot(ctx, episodes, items); err != nil {
		return err
	}
	s.episodeCache.Clear(ctx)
	s.procedureCache.Clear(ctx)
	return nil
}

func (s *Store) GetMemoryCounts(ctx context.Context) (*MemoryCounts, error) {
	return s.driver.GetMemoryCounts(ctx)
}
