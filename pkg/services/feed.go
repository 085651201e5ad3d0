package services

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"chitter/pkg/errs"
	sn_metrics "chitter/pkg/metrics"
	"chitter/pkg/model"
	"chitter/pkg/storage"

	"github.com/ServiceWeaver/weaver"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	globalFeedKey = "feed:global"

	defaultFeedLimit = 20
	maxFeedLimit     = 100

	// bound on staleness of redis feed caches; the full scan is the truth
	// and rebuilds them on expiry
	feedCacheTTL = 60 * time.Second
)

func homeTimelineKey(userID int64) string {
	return "feed:home:" + strconv.FormatInt(userID, 10)
}

type FeedService interface {
	GlobalFeed(ctx context.Context, reqID int64, cursor string, limit int) (model.FeedPage, error)
	PersonalFeed(ctx context.Context, reqID int64, viewerID int64, cursor string, limit int) (model.FeedPage, error)
}

type feedService struct {
	weaver.Implements[FeedService]
	weaver.WithConfig[feedServiceOptions]
	identityService    weaver.Ref[IdentityService]
	socialGraphService weaver.Ref[SocialGraphService]
	chitStorageService weaver.Ref[ChitStorageService]
	geocodeService     weaver.Ref[GeocodeService]
	redisClient        *redis.Client
}

type feedServiceOptions struct {
	RedisAddr string `toml:"redis_address"`
	RedisPort int    `toml:"redis_port"`
}

func (f *feedService) Init(ctx context.Context) error {
	logger := f.Logger(ctx)
	f.redisClient = storage.RedisClient(f.Config().RedisAddr, f.Config().RedisPort)
	logger.Info("feed service running!", "redis_addr", f.Config().RedisAddr, "redis_port", f.Config().RedisPort)
	return nil
}

// chitLess is the canonical feed order: newest first, ties on the
// second-granularity timestamp broken by ascending chit id so the order is a
// deterministic total order.
func chitLess(a, b model.Chit) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ChitID < b.ChitID
}

func sortChits(chits []model.Chit) {
	sort.Slice(chits, func(i, j int) bool { return chitLess(chits[i], chits[j]) })
}

// pageAfter cuts one page out of a feed already in canonical order. The
// cursor points at the last chit of the previous page; nil means the top.
func pageAfter(sorted []model.Chit, cursor *model.FeedCursor, limit int) ([]model.Chit, string) {
	start := 0
	if cursor != nil {
		boundary := model.Chit{ChitID: cursor.ChitID, CreatedAt: cursor.CreatedAt}
		start = sort.Search(len(sorted), func(i int) bool {
			return chitLess(boundary, sorted[i])
		})
	}
	end := start + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	page := make([]model.Chit, end-start)
	copy(page, sorted[start:end])
	if end < len(sorted) && len(page) > 0 {
		last := page[len(page)-1]
		return page, model.FeedCursor{CreatedAt: last.CreatedAt, ChitID: last.ChitID}.Encode()
	}
	return page, ""
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultFeedLimit
	}
	if limit > maxFeedLimit {
		return maxFeedLimit
	}
	return limit
}

func dedupAuthors(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// personalAuthors is the visibility set of a personal feed: the viewer plus
// everyone the viewer follows, nothing else.
func personalAuthors(viewerID int64, followees []int64) []int64 {
	return dedupAuthors(append(followees, viewerID))
}

func (f *feedService) GlobalFeed(ctx context.Context, reqID int64, cursor string, limit int) (model.FeedPage, error) {
	logger := f.Logger(ctx)
	logger.Debug("entering GlobalFeed", "req_id", reqID, "cursor", cursor, "limit", limit)

	parsed, err := model.ParseCursor(cursor)
	if err != nil {
		return model.FeedPage{}, errs.New(errs.InvalidInput, "%v", err)
	}
	start := time.Now()
	defer func() {
		sn_metrics.FeedReadDurationMs.Put(float64(time.Since(start).Milliseconds()))
	}()

	chits, ok := f.readCachedFeed(ctx, reqID, globalFeedKey)
	if !ok {
		authorIDs, err := f.identityService.Get().ListUserIDs(ctx, reqID)
		if err != nil {
			return model.FeedPage{}, err
		}
		chits, err = f.scanAuthors(ctx, reqID, authorIDs)
		if err != nil {
			return model.FeedPage{}, err
		}
		f.fillFeedCache(ctx, globalFeedKey, chits)
	}
	return f.buildPage(ctx, reqID, chits, parsed, clampLimit(limit)), nil
}

// PersonalFeed aggregates the chits of the viewer and everyone the viewer
// follows. The follow graph is the filter; nothing outside it is visible.
func (f *feedService) PersonalFeed(ctx context.Context, reqID int64, viewerID int64, cursor string, limit int) (model.FeedPage, error) {
	logger := f.Logger(ctx)
	logger.Debug("entering PersonalFeed", "req_id", reqID, "viewer_id", viewerID, "cursor", cursor, "limit", limit)

	parsed, err := model.ParseCursor(cursor)
	if err != nil {
		return model.FeedPage{}, errs.New(errs.InvalidInput, "%v", err)
	}
	start := time.Now()
	defer func() {
		sn_metrics.FeedReadDurationMs.Put(float64(time.Since(start).Milliseconds()))
	}()

	// GetFollowees also resolves NotFound for an unknown viewer
	followees, err := f.socialGraphService.Get().GetFollowees(ctx, reqID, viewerID)
	if err != nil {
		return model.FeedPage{}, err
	}

	key := homeTimelineKey(viewerID)
	chits, ok := f.readCachedFeed(ctx, reqID, key)
	if !ok {
		authorIDs := personalAuthors(viewerID, followees)
		chits, err = f.scanAuthors(ctx, reqID, authorIDs)
		if err != nil {
			return model.FeedPage{}, err
		}
		f.fillFeedCache(ctx, key, chits)
	}
	return f.buildPage(ctx, reqID, chits, parsed, clampLimit(limit)), nil
}

// scanAuthors fans out one ListChits per author and joins the results before
// the final merge; order between the fan-out reads does not matter.
func (f *feedService) scanAuthors(ctx context.Context, reqID int64, authorIDs []int64) ([]model.Chit, error) {
	logger := f.Logger(ctx)
	sn_metrics.FeedCacheRebuilds.Inc()

	var mu sync.Mutex
	var chits []model.Chit
	errors := make([]error, len(authorIDs))
	var wg sync.WaitGroup
	wg.Add(len(authorIDs))
	for idx, authorID := range authorIDs {
		go func(idx int, authorID int64) {
			defer wg.Done()
			authorChits, err := f.chitStorageService.Get().ListChits(ctx, reqID, authorID)
			if err != nil {
				errors[idx] = err
				return
			}
			mu.Lock()
			chits = append(chits, authorChits...)
			mu.Unlock()
		}(idx, authorID)
	}
	wg.Wait()
	for _, err := range errors {
		if err != nil {
			logger.Error("error scanning author chits", "msg", err.Error())
			return nil, err
		}
	}
	sortChits(chits)

	trace.SpanFromContext(ctx).AddEvent("aggregated author chits",
		trace.WithAttributes(
			attribute.Int("num_authors", len(authorIDs)),
			attribute.Int("num_chits", len(chits)),
		))
	return chits, nil
}

// readCachedFeed loads a feed from its redis sorted set, resolving chit ids
// through the chit storage read path. A missing or unparsable cache reports
// !ok and the caller falls back to the full scan.
func (f *feedService) readCachedFeed(ctx context.Context, reqID int64, key string) ([]model.Chit, bool) {
	logger := f.Logger(ctx)

	cached, err := f.redisClient.ZCard(ctx, key).Result()
	if err != nil {
		logger.Error("error reading feed cache size from redis", "msg", err.Error())
		return nil, false
	}
	if cached == 0 {
		return nil, false
	}
	result, err := f.redisClient.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		logger.Error("error reading feed cache from redis", "msg", err.Error())
		return nil, false
	}
	chitIDs := make([]int64, 0, len(result))
	for _, r := range result {
		id, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			logger.Error("error parsing chit id from redis result", "msg", err.Error())
			return nil, false
		}
		chitIDs = append(chitIDs, id)
	}
	chits, err := f.chitStorageService.Get().ReadChits(ctx, reqID, chitIDs)
	if err != nil {
		logger.Error("error resolving cached feed chits", "msg", err.Error())
		return nil, false
	}
	sortChits(chits)
	return chits, true
}

func (f *feedService) fillFeedCache(ctx context.Context, key string, chits []model.Chit) {
	logger := f.Logger(ctx)
	if len(chits) == 0 {
		return
	}
	_, err := f.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, chit := range chits {
			err := pipe.ZAddNX(ctx, key, redis.Z{
				Member: chit.ChitID,
				Score:  float64(chit.CreatedAt),
			}).Err()
			if err != nil {
				return err
			}
		}
		return pipe.Expire(ctx, key, feedCacheTTL).Err()
	})
	if err != nil {
		logger.Error("error writing feed cache to redis", "msg", err.Error())
	}
}

// buildPage slices the page out of the aggregated feed and annotates located
// chits with a reverse-geocoded place name. Annotation never fails the page.
func (f *feedService) buildPage(ctx context.Context, reqID int64, sorted []model.Chit, cursor *model.FeedCursor, limit int) model.FeedPage {
	page, next := pageAfter(sorted, cursor, limit)

	var wg sync.WaitGroup
	for idx := range page {
		if page[idx].Location == nil {
			continue
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			loc := page[idx].Location
			place, err := f.geocodeService.Get().ResolvePlace(ctx, reqID, loc.Latitude, loc.Longitude)
			if err != nil {
				place = placeUnavailable
			}
			page[idx].Place = place
		}(idx)
	}
	wg.Wait()
	return model.FeedPage{Chits: page, NextCursor: next}
}
