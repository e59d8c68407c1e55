package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	memerr "github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/plugin/ai/vector"
	"github.com/hrygo/recall/store"
)

// jaccardThreshold is the minimum feature-set similarity for two episodes to
// land in the same compression group.
const jaccardThreshold = 0.4

// maxKeywords caps the keywords extracted from a task description.
const maxKeywords = 5

// CompressionStats summarizes one compression pass.
type CompressionStats struct {
	Processed  int   // candidate episodes examined
	Compressed int   // episodes deleted after summarization
	Created    int   // semantic items written
	BytesSaved int64 // raw text bytes removed minus summary bytes added
}

// Compressor groups stale episodes by similarity, summarizes each group into
// a semantic item, and deletes the originals. Writes happen before deletes so
// a crash mid-pass never loses knowledge.
type Compressor struct {
	store         *store.Store
	semantic      *SemanticMemory
	episodic      *EpisodicStore
	index         vector.Index
	checkpointDir string
	maxEpisodes   int
	now           func() time.Time
}

// NewCompressor creates a compressor. maxEpisodes is the hard retention
// ceiling past which even singleton episodes are pruned, oldest first.
func NewCompressor(st *store.Store, semantic *SemanticMemory, episodic *EpisodicStore, index vector.Index, checkpointDir string, maxEpisodes int) *Compressor {
	return &Compressor{
		store:         st,
		semantic:      semantic,
		episodic:      episodic,
		index:         index,
		checkpointDir: checkpointDir,
		maxEpisodes:   maxEpisodes,
		now:           time.Now,
	}
}

// Compress runs one pass over episodes older than olderThan. The candidate
// window is snapshotted up front; each group is re-validated just before its
// deletes, so a concurrent mutation aborts only that group.
func (c *Compressor) Compress(ctx context.Context, olderThan time.Time) (*CompressionStats, error) {
	cutoff := olderThan.Unix()
	candidates, err := c.store.ListEpisodes(ctx, &store.FindEpisode{CreatedBefore: &cutoff})
	if err != nil {
		return nil, err
	}

	stats := &CompressionStats{Processed: len(candidates)}
	if len(candidates) >= 2 {
		features := make([]map[string]bool, len(candidates))
		for i, episode := range candidates {
			features[i] = episodeFeatures(episode)
		}

		groups := groupBySimilarity(features)
		for _, group := range groups {
			if len(group) < 2 {
				continue
			}
			episodes := make([]*store.Episode, len(group))
			for i, idx := range group {
				episodes[i] = candidates[idx]
			}
			if err := c.compressGroup(ctx, episodes, stats); err != nil {
				if memerr.CodeOf(err) == memerr.ErrCodeCompressionConflict {
					slog.Warn("compression group aborted", "size", len(group), "error", err)
					continue
				}
				return stats, err
			}
		}
	}

	if err := c.enforceRetentionCeiling(ctx, stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// compressGroup writes one semantic summary for the group, then deletes the
// grouped episodes. Returns a CompressionConflict when the group changed
// underneath the pass.
func (c *Compressor) compressGroup(ctx context.Context, episodes []*store.Episode, stats *CompressionStats) error {
	uids := make([]string, len(episodes))
	for i, episode := range episodes {
		uids[i] = episode.UID
	}

	// Re-validate against live state before the irreversible part.
	for _, uid := range uids {
		live, err := c.store.GetEpisodeByUID(ctx, uid)
		if err != nil {
			return err
		}
		if live == nil {
			return memerr.CompressionConflict("episode " + uid + " deleted concurrently")
		}
	}

	title := dominantPattern(episodes)
	summary := mergedSummaries(episodes)
	confidence := groupSuccessRate(episodes)

	if _, err := c.semantic.AddKnowledge(ctx, title, summary, uids, confidence); err != nil {
		return err
	}
	stats.Created++

	deleted, err := c.store.DeleteEpisode(ctx, &store.DeleteEpisode{UIDs: uids})
	if err != nil {
		return memerr.StorageWriteFailed("failed to delete compressed episodes", err)
	}
	stats.Compressed += int(deleted)

	var rawBytes int64
	for _, episode := range episodes {
		rawBytes += int64(len(episode.TaskDescription) + len(episode.ContextSnapshot) + len(episode.SolutionSummary))
		if err := c.index.Remove(episode.UID); err != nil {
			slog.Debug("compressed episode was not indexed", "episode", episode.UID)
		}
	}
	stats.BytesSaved += rawBytes - int64(len(title)+len(summary))

	return nil
}

// enforceRetentionCeiling prunes the oldest episodes once the store exceeds
// maxEpisodes. This is the only path that touches singletons.
func (c *Compressor) enforceRetentionCeiling(ctx context.Context, stats *CompressionStats) error {
	if c.maxEpisodes <= 0 {
		return nil
	}
	counts, err := c.store.GetMemoryCounts(ctx)
	if err != nil {
		return err
	}
	excess := int(counts.Episodes) - c.maxEpisodes
	if excess <= 0 {
		return nil
	}

	// ListEpisodes orders newest first; the overflow is the tail.
	episodes, err := c.store.ListEpisodes(ctx, &store.FindEpisode{})
	if err != nil {
		return err
	}
	if len(episodes) <= c.maxEpisodes {
		return nil
	}
	victims := episodes[len(episodes)-excess:]

	uids := make([]string, len(victims))
	for i, episode := range victims {
		uids[i] = episode.UID
	}
	deleted, err := c.store.DeleteEpisode(ctx, &store.DeleteEpisode{UIDs: uids})
	if err != nil {
		return memerr.StorageWriteFailed("failed to prune episodes past retention ceiling", err)
	}
	for _, uid := range uids {
		_ = c.index.Remove(uid)
	}
	stats.Compressed += int(deleted)
	slog.Info("retention ceiling enforced", "pruned", deleted, "ceiling", c.maxEpisodes)
	return nil
}

// memorySnapshot is the on-disk checkpoint payload.
type memorySnapshot struct {
	Version       int                   `json:"version"`
	CreatedTs     int64                 `json:"createdTs"`
	Episodes      []*store.Episode      `json:"episodes"`
	SemanticItems []*store.SemanticItem `json:"semanticItems"`
}

const snapshotFormatVersion = 1

// CreateCheckpoint snapshots episodes, semantic items, and the vector index
// to disk, and records a checkpoint row pointing at the snapshot.
func (c *Compressor) CreateCheckpoint(ctx context.Context) (*store.Checkpoint, error) {
	episodes, err := c.store.ListEpisodes(ctx, &store.FindEpisode{})
	if err != nil {
		return nil, err
	}
	items, err := c.store.ListSemanticItems(ctx, &store.FindSemanticItem{})
	if err != nil {
		return nil, err
	}

	snapshot := memorySnapshot{
		Version:       snapshotFormatVersion,
		CreatedTs:     c.now().Unix(),
		Episodes:      episodes,
		SemanticItems: items,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, memerr.StorageWriteFailed("failed to encode checkpoint snapshot", err)
	}

	uid := uuid.NewString()
	if err := os.MkdirAll(c.checkpointDir, 0o755); err != nil {
		return nil, memerr.StorageWriteFailed("failed to create checkpoint dir", err)
	}
	path := filepath.Join(c.checkpointDir, uid+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, memerr.StorageWriteFailed("failed to write checkpoint snapshot", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, memerr.StorageWriteFailed("failed to finalize checkpoint snapshot", err)
	}

	if err := c.index.Save(indexBlobPath(path)); err != nil {
		slog.Warn("checkpoint index blob not written, restore will rebuild", "error", err)
	}

	checkpoint, err := c.store.CreateCheckpoint(ctx, &store.Checkpoint{UID: uid, SnapshotRef: path})
	if err != nil {
		os.Remove(path)
		return nil, memerr.StorageWriteFailed("failed to record checkpoint", err)
	}
	return checkpoint, nil
}

// RestoreCheckpoint replaces live episodes and semantic items with the
// checkpoint's snapshot. The snapshot is fully parsed before any live state
// changes, and the swap itself is transactional.
func (c *Compressor) RestoreCheckpoint(ctx context.Context, uid string) error {
	checkpoints, err := c.store.ListCheckpoints(ctx, &store.FindCheckpoint{UID: &uid, Limit: 1})
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		return memerr.NotFound("checkpoint " + uid)
	}
	ref := checkpoints[0].SnapshotRef

	data, err := os.ReadFile(ref)
	if err != nil {
		return memerr.CheckpointRestoreFailed("failed to read checkpoint snapshot", err)
	}
	var snapshot memorySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return memerr.CheckpointRestoreFailed("failed to decode checkpoint snapshot", err)
	}
	if snapshot.Version != snapshotFormatVersion {
		return memerr.CheckpointRestoreFailed("unsupported checkpoint snapshot version", nil)
	}

	if err := c.store.ReplaceMemorySnapshot(ctx, snapshot.Episodes, snapshot.SemanticItems); err != nil {
		return memerr.CheckpointRestoreFailed("failed to apply checkpoint snapshot", err)
	}

	if err := c.index.Load(indexBlobPath(ref)); err != nil {
		slog.Warn("checkpoint index blob unusable, rebuilding", "error", err)
		if _, err := c.episodic.RebuildIndex(ctx); err != nil {
			return memerr.CheckpointRestoreFailed("failed to rebuild index after restore", err)
		}
	}
	return nil
}

func indexBlobPath(snapshotRef string) string {
	return strings.TrimSuffix(snapshotRef, ".json") + ".hnsw"
}

// episodeFeatures is the feature set used for similarity grouping: touched
// files plus extracted keywords.
func episodeFeatures(episode *store.Episode) map[string]bool {
	features := make(map[string]bool)
	for _, file := range episode.FilesTouched {
		features[file] = true
	}
	for _, keyword := range extractKeywords(episode.TaskDescription) {
		features[keyword] = true
	}
	return features
}

// extractKeywords lowercases the text and keeps the first maxKeywords words
// longer than 3 characters.
func extractKeywords(text string) []string {
	keywords := make([]string, 0, maxKeywords)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?()[]{}\"'")
		if len(word) <= 3 {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) >= maxKeywords {
			break
		}
	}
	return keywords
}

// jaccard similarity of two feature sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for f := range a {
		if b[f] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// groupBySimilarity clusters indices whose pairwise Jaccard similarity meets
// the threshold, using union-find.
func groupBySimilarity(features []map[string]bool) [][]int {
	parent := make([]int, len(features))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < len(features); i++ {
		for j := i + 1; j < len(features); j++ {
			if jaccard(features[i], features[j]) >= jaccardThreshold {
				union(i, j)
			}
		}
	}

	byRoot := make(map[int][]int)
	for i := range features {
		root := find(i)
		byRoot[root] = append(byRoot[root], i)
	}

	groups := make([][]int, 0, len(byRoot))
	for _, group := range byRoot {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// dominantPattern builds a group title from its most frequent keywords.
func dominantPattern(episodes []*store.Episode) string {
	freq := make(map[string]int)
	order := []string{}
	for _, episode := range episodes {
		for _, keyword := range extractKeywords(episode.TaskDescription) {
			if freq[keyword] == 0 {
				order = append(order, keyword)
			}
			freq[keyword]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })

	top := order
	if len(top) > 3 {
		top = top[:3]
	}
	if len(top) == 0 {
		return episodes[0].TaskDescription
	}
	return strings.Join(top, " ")
}

// mergedSummaries joins the distinct solution summaries of a group.
func mergedSummaries(episodes []*store.Episode) string {
	seen := make(map[string]bool)
	parts := []string{}
	for _, episode := range episodes {
		summary := strings.TrimSpace(episode.SolutionSummary)
		if summary == "" || seen[summary] {
			continue
		}
		seen[summary] = true
		parts = append(parts, summary)
	}
	return strings.Join(parts, "\n")
}

// groupSuccessRate is the fraction of successful episodes in a group.
func groupSuccessRate(episodes []*store.Episode) float32 {
	if len(episodes) == 0 {
		return 0
	}
	successes := 0
	for _, episode := range episodes {
		if episode.Outcome == store.OutcomeSuccess {
			successes++
		}
	}
	return float32(successes) / float32(len(episodes))
}
