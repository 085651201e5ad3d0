package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"chitter/pkg/errs"
	"chitter/pkg/storage"
	"chitter/pkg/utils"

	"github.com/ServiceWeaver/weaver"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type SocialGraphService interface {
	Follow(ctx context.Context, reqID int64, followerID int64, followeeID int64) error
	Unfollow(ctx context.Context, reqID int64, followerID int64, followeeID int64) error
	GetFollowers(ctx context.Context, reqID int64, userID int64) ([]int64, error)
	GetFollowees(ctx context.Context, reqID int64, userID int64) ([]int64, error)
}

var _ weaver.NotRetriable = SocialGraphService.Follow
var _ weaver.NotRetriable = SocialGraphService.Unfollow

// followEdge is one directed edge of the graph. A follow relation is exactly
// one document, so the follower and followee projections can never disagree:
// inserting or deleting the document is the atomic unit.
type followEdge struct {
	FollowerID int64 `bson:"follower_id"`
	FolloweeID int64 `bson:"followee_id"`
	Timestamp  int64 `bson:"timestamp"`
}

type socialGraphService struct {
	weaver.Implements[SocialGraphService]
	weaver.WithConfig[socialGraphServiceOptions]
	identityService weaver.Ref[IdentityService]
	mongoClient     *mongo.Client
	redisClient     *redis.Client
	storeTimeout    time.Duration
}

type socialGraphServiceOptions struct {
	MongoDBAddr    string `toml:"mongodb_address"`
	MongoDBPort    int    `toml:"mongodb_port"`
	RedisAddr      string `toml:"redis_address"`
	RedisPort      int    `toml:"redis_port"`
	StoreTimeoutMs int    `toml:"store_timeout_ms"`
}

func (s *socialGraphService) Init(ctx context.Context) error {
	logger := s.Logger(ctx)
	s.storeTimeout = time.Duration(s.Config().StoreTimeoutMs) * time.Millisecond
	if s.storeTimeout <= 0 {
		s.storeTimeout = 5 * time.Second
	}

	var err error
	s.mongoClient, err = storage.MongoDBClient(ctx, s.Config().MongoDBAddr, s.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	s.redisClient = storage.RedisClient(s.Config().RedisAddr, s.Config().RedisPort)

	logger.Info("social graph service running!",
		"mongodb_addr", s.Config().MongoDBAddr, "mongodb_port", s.Config().MongoDBPort,
		"redis_addr", s.Config().RedisAddr, "redis_port", s.Config().RedisPort,
	)
	return nil
}

func (s *socialGraphService) edges() *mongo.Collection {
	return s.mongoClient.Database("socialgraph").Collection("edges")
}

// validateEdge rejects degenerate edges before any store work.
func validateEdge(followerID, followeeID int64) error {
	if followerID == followeeID {
		return errs.New(errs.InvalidInput, "user %d cannot follow itself", followerID)
	}
	return nil
}

// checkUsersExist resolves both endpoints in parallel before any mutation.
func (s *socialGraphService) checkUsersExist(ctx context.Context, reqID int64, followerID int64, followeeID int64) error {
	var err1, err2 error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err1 = s.identityService.Get().GetProfile(ctx, reqID, followerID)
	}()
	go func() {
		defer wg.Done()
		_, err2 = s.identityService.Get().GetProfile(ctx, reqID, followeeID)
	}()
	wg.Wait()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *socialGraphService) Follow(ctx context.Context, reqID int64, followerID int64, followeeID int64) error {
	logger := s.Logger(ctx)
	logger.Debug("entering Follow", "req_id", reqID, "follower_id", followerID, "followee_id", followeeID)

	if err := validateEdge(followerID, followeeID); err != nil {
		return err
	}
	if err := s.checkUsersExist(ctx, reqID, followerID, followeeID); err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	timestamp := time.Now().Unix()
	filter := bson.D{
		{Key: "follower_id", Value: followerID},
		{Key: "followee_id", Value: followeeID},
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"follower_id": followerID,
			"followee_id": followeeID,
			"timestamp":   timestamp,
		},
	}
	result, err := s.edges().UpdateOne(storeCtx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		logger.Error("error inserting follow edge in mongodb", "msg", err.Error())
		return errs.New(errs.StoreUnavailable, "writing edge store: %v", err)
	}
	if result.UpsertedCount == 0 {
		return errs.New(errs.Conflict, "user %d already follows user %d", followerID, followeeID)
	}

	s.updateEdgeCaches(ctx, followerID, followeeID, timestamp, true)
	return nil
}

func (s *socialGraphService) Unfollow(ctx context.Context, reqID int64, followerID int64, followeeID int64) error {
	logger := s.Logger(ctx)
	logger.Debug("entering Unfollow", "req_id", reqID, "follower_id", followerID, "followee_id", followeeID)

	if err := validateEdge(followerID, followeeID); err != nil {
		return err
	}
	if err := s.checkUsersExist(ctx, reqID, followerID, followeeID); err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	filter := bson.D{
		{Key: "follower_id", Value: followerID},
		{Key: "followee_id", Value: followeeID},
	}
	result, err := s.edges().DeleteOne(storeCtx, filter)
	if err != nil {
		logger.Error("error deleting follow edge in mongodb", "msg", err.Error())
		return errs.New(errs.StoreUnavailable, "writing edge store: %v", err)
	}
	if result.DeletedCount == 0 {
		return errs.New(errs.NotFound, "user %d does not follow user %d", followerID, followeeID)
	}

	s.updateEdgeCaches(ctx, followerID, followeeID, 0, false)
	return nil
}

// updateEdgeCaches keeps the redis follower/followee sets aligned with the
// committed edge and drops the follower's cached home timeline. Mongo already
// holds the truth here, so cache failures degrade to invalidation.
func (s *socialGraphService) updateEdgeCaches(ctx context.Context, followerID int64, followeeID int64, timestamp int64, followed bool) {
	logger := s.Logger(ctx)
	followerStr := strconv.FormatInt(followerID, 10)
	followeeStr := strconv.FormatInt(followeeID, 10)
	followeesKey := followerStr + ":followees"
	followersKey := followeeStr + ":followers"

	_, err := s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if followed {
			// only extend caches that are already populated
			if s.redisClient.ZCard(ctx, followeesKey).Val() > 0 {
				pipe.ZAddNX(ctx, followeesKey, redis.Z{Member: followeeID, Score: float64(timestamp)})
			}
			if s.redisClient.ZCard(ctx, followersKey).Val() > 0 {
				pipe.ZAddNX(ctx, followersKey, redis.Z{Member: followerID, Score: float64(timestamp)})
			}
		} else {
			pipe.ZRem(ctx, followeesKey, followeeID)
			pipe.ZRem(ctx, followersKey, followerID)
		}
		pipe.Del(ctx, homeTimelineKey(followerID))
		return nil
	})
	if err != nil {
		logger.Error("error updating edge caches in redis", "msg", err.Error())
		if err := s.redisClient.Del(ctx, followeesKey, followersKey, homeTimelineKey(followerID)).Err(); err != nil {
			logger.Error("error invalidating edge caches in redis", "msg", err.Error())
		}
	}
}

// GetFollowers attempts to get the ids from redis if cached
// Otherwise, it reads the edges from mongodb and updates redis with the ids
func (s *socialGraphService) GetFollowers(ctx context.Context, reqID int64, userID int64) ([]int64, error) {
	logger := s.Logger(ctx)
	logger.Debug("entering GetFollowers", "req_id", reqID, "user_id", userID)

	if _, err := s.identityService.Get().GetProfile(ctx, reqID, userID); err != nil {
		return nil, err
	}
	key := strconv.FormatInt(userID, 10) + ":followers"
	filter := bson.D{
		{Key: "followee_id", Value: userID},
	}
	return s.edgeEndpoints(ctx, key, filter, func(e followEdge) int64 { return e.FollowerID })
}

// GetFollowees is the mirror of GetFollowers over the same edge collection.
func (s *socialGraphService) GetFollowees(ctx context.Context, reqID int64, userID int64) ([]int64, error) {
	logger := s.Logger(ctx)
	logger.Debug("entering GetFollowees", "req_id", reqID, "user_id", userID)

	if _, err := s.identityService.Get().GetProfile(ctx, reqID, userID); err != nil {
		return nil, err
	}
	key := strconv.FormatInt(userID, 10) + ":followees"
	filter := bson.D{
		{Key: "follower_id", Value: userID},
	}
	return s.edgeEndpoints(ctx, key, filter, func(e followEdge) int64 { return e.FolloweeID })
}

func (s *socialGraphService) edgeEndpoints(ctx context.Context, cacheKey string, filter bson.D, endpoint func(followEdge) int64) ([]int64, error) {
	logger := s.Logger(ctx)

	ids := []int64{}
	cached, err := s.redisClient.ZCard(ctx, cacheKey).Result()
	if err != nil {
		logger.Error("error reading edge cache size from redis", "msg", err.Error())
	}
	if cached > 0 {
		result, err := s.redisClient.ZRange(ctx, cacheKey, 0, -1).Result()
		if err != nil {
			logger.Error("error reading edges from redis", "msg", err.Error())
			return nil, errs.New(errs.StoreUnavailable, "reading edge cache: %v", err)
		}
		for _, r := range result {
			id, err := strconv.ParseInt(r, 10, 64)
			if err != nil {
				logger.Error("error parsing id from redis to int64", "msg", err.Error())
				return nil, errs.New(errs.StoreUnavailable, "parsing edge cache: %v", err)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	// did not find edges in redis
	// look up in mongodb and update redis
	var edges []followEdge
	scan := func(ctx context.Context) error {
		storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		cur, err := s.edges().Find(storeCtx, filter)
		if err != nil {
			return err
		}
		defer cur.Close(storeCtx)
		edges = edges[:0]
		for cur.Next(storeCtx) {
			var e followEdge
			if err := cur.Decode(&e); err != nil {
				return err
			}
			edges = append(edges, e)
		}
		return cur.Err()
	}
	err = utils.RetryRead(ctx, scan, func(error) bool { return true })
	if err != nil {
		logger.Error("error reading edges from mongodb", "msg", err.Error())
		return nil, errs.New(errs.StoreUnavailable, "reading edge store: %v", err)
	}
	for _, e := range edges {
		ids = append(ids, endpoint(e))
	}
	_, err = s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range edges {
			err := pipe.ZAddNX(ctx, cacheKey, redis.Z{
				Member: endpoint(e),
				Score:  float64(e.Timestamp),
			}).Err()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("error updating redis with edges from mongodb", "msg", err.Error())
	}
	return ids, nil
}
