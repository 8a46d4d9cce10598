package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classquest/classquest/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// A sorted set orders user ids by XP and a hash keeps the full entries.
// Redis only orders by score, so ties at the cut are widened and resolved
// with leaderboard.Sort before truncating.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache implements leaderboard.Cache.
type LeaderboardCache struct {
	cache *Cache
}

// NewLeaderboardCache creates a new LeaderboardCache instance.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

// cacheMeta is stored under KeyLeaderboardMeta after a full rebuild.
type cacheMeta struct {
	RebuiltAt time.Time `json:"rebuilt_at"`
	Entries   int       `json:"entries"`
}

// Put updates one entry. Writes to a cache that was never rebuilt are
// skipped since reads would treat it as a miss anyway.
func (l *LeaderboardCache) Put(ctx context.Context, e leaderboard.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	client := l.cache.Client()

	n, err := client.Exists(ctx, KeyLeaderboardMeta).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	pipe := client.TxPipeline()
	pipe.ZAdd(ctx, KeyLeaderboardXP, redis.Z{Score: float64(e.XP), Member: e.UserID})
	pipe.HSet(ctx, KeyLeaderboardInfo, e.UserID, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Top returns up to limit entries in ranking order. ok is false when the
// cache was not rebuilt or is missing entry details.
func (l *LeaderboardCache) Top(ctx context.Context, limit int) ([]leaderboard.Entry, bool, error) {
	if limit <= 0 {
		return []leaderboard.Entry{}, true, nil
	}
	client := l.cache.Client()

	n, err := client.Exists(ctx, KeyLeaderboardMeta).Result()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}

	head, err := client.ZRevRangeWithScores(ctx, KeyLeaderboardXP, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, false, err
	}
	ids := members(head)

	if cut, ok := tieScore(head, limit); ok {
		ties, err := client.ZRangeByScore(ctx, KeyLeaderboardXP, &redis.ZRangeBy{
			Min: scoreArg(cut),
			Max: scoreArg(cut),
		}).Result()
		if err != nil {
			return nil, false, err
		}
		ids = mergeIDs(ids, ties)
	}
	if len(ids) == 0 {
		return []leaderboard.Entry{}, true, nil
	}

	vals, err := client.HMGet(ctx, KeyLeaderboardInfo, ids...).Result()
	if err != nil {
		return nil, false, err
	}
	entries, complete := decodeEntries(vals)
	if !complete {
		return nil, false, nil
	}

	leaderboard.Sort(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, true, nil
}

// Replace drops the cache and loads entries in one transaction.
func (l *LeaderboardCache) Replace(ctx context.Context, entries []leaderboard.Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLLeaderboardCache
	}

	zs := make([]redis.Z, 0, len(entries))
	info := make(map[string]any, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		zs = append(zs, redis.Z{Score: float64(e.XP), Member: e.UserID})
		info[e.UserID] = data
	}
	meta, err := json.Marshal(cacheMeta{RebuiltAt: time.Now().UTC(), Entries: len(entries)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, KeyLeaderboardXP, KeyLeaderboardInfo, KeyLeaderboardMeta)
	if len(zs) > 0 {
		pipe.ZAdd(ctx, KeyLeaderboardXP, zs...)
		pipe.HSet(ctx, KeyLeaderboardInfo, info)
		pipe.Expire(ctx, KeyLeaderboardXP, ttl)
		pipe.Expire(ctx, KeyLeaderboardInfo, ttl)
	}
	pipe.Set(ctx, KeyLeaderboardMeta, meta, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace leaderboard cache: %w", err)
	}
	return nil
}

// Invalidate removes every leaderboard key; the next read is a miss.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.cache.Delete(ctx, KeyLeaderboardXP, KeyLeaderboardInfo, KeyLeaderboardMeta)
}

// ──────────────────────────────────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────────────────────────────────

func members(zs []redis.Z) []string {
	ids := make([]string, 0, len(zs))
	for _, z := range zs {
		if id, ok := z.Member.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// tieScore reports the score at the cut when the head filled the limit;
// more members may share it outside the head.
func tieScore(head []redis.Z, limit int) (float64, bool) {
	if limit <= 0 || len(head) < limit {
		return 0, false
	}
	return head[limit-1].Score, true
}

func scoreArg(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// mergeIDs appends ids from extra that are not already in ids.
func mergeIDs(ids, extra []string) []string {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range extra {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// decodeEntries parses HMGET results. complete is false if any field was
// missing or malformed.
func decodeEntries(vals []any) ([]leaderboard.Entry, bool) {
	out := make([]leaderboard.Entry, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		var e leaderboard.Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, false
		}
		out = append(out, e)
	}
	return out, true
}
