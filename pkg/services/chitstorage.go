package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"chitter/pkg/errs"
	sn_metrics "chitter/pkg/metrics"
	"chitter/pkg/model"
	"chitter/pkg/storage"
	sn_trace "chitter/pkg/trace"
	"chitter/pkg/utils"

	"github.com/ServiceWeaver/weaver"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const chitPostedExchange = "chit-posted"

type ChitStorageService interface {
	StoreChit(ctx context.Context, reqID int64, authorID int64, content string, location *model.Location, imageRef string) (model.Chit, error)
	ListChits(ctx context.Context, reqID int64, authorID int64) ([]model.Chit, error)
	ReadChits(ctx context.Context, reqID int64, chitIDs []int64) ([]model.Chit, error)
	DeleteChit(ctx context.Context, reqID int64, authorID int64, chitID int64, callerID int64) error
}

var _ weaver.NotRetriable = ChitStorageService.StoreChit
var _ weaver.NotRetriable = ChitStorageService.DeleteChit

type chitStorageService struct {
	weaver.Implements[ChitStorageService]
	weaver.WithConfig[chitStorageServiceOptions]
	identityService weaver.Ref[IdentityService]
	idGen           *utils.IDGenerator
	mongoClient     *mongo.Client
	redisClient     *redis.Client
	amqChannel      *amqp.Channel
	amqConnection   *amqp.Connection
	storeTimeout    time.Duration
}

type chitStorageServiceOptions struct {
	MongoDBAddr      string `toml:"mongodb_address"`
	MongoDBPort      int    `toml:"mongodb_port"`
	RedisAddr        string `toml:"redis_address"`
	RedisPort        int    `toml:"redis_port"`
	RabbitMQAddr     string `toml:"rabbitmq_address"`
	RabbitMQPort     int    `toml:"rabbitmq_port"`
	RabbitMQUsername string `toml:"rabbitmq_username"`
	RabbitMQPassword string `toml:"rabbitmq_password"`
	StoreTimeoutMs   int    `toml:"store_timeout_ms"`
}

// validateChitInput enforces the chit content contract: a chit must carry at
// least one of text, image, location, and a location must be a full pair of
// in-range coordinates.
func validateChitInput(content string, location *model.Location, imageRef string) error {
	if strings.TrimSpace(content) == "" && imageRef == "" && location == nil {
		return errs.New(errs.InvalidInput, "a chit needs text, an image or a location")
	}
	if location != nil {
		if location.Latitude < -90 || location.Latitude > 90 {
			return errs.New(errs.InvalidInput, "latitude %f out of range", location.Latitude)
		}
		if location.Longitude < -180 || location.Longitude > 180 {
			return errs.New(errs.InvalidInput, "longitude %f out of range", location.Longitude)
		}
	}
	return nil
}

// checkChitAuthor enforces that only the author may delete a chit.
func checkChitAuthor(callerID, authorID, chitID int64) error {
	if callerID != authorID {
		return errs.New(errs.Unauthorized, "user %d is not the author of chit %d", callerID, chitID)
	}
	return nil
}

func chitCacheKey(chitID int64) string {
	return "chit:" + strconv.FormatInt(chitID, 10)
}

func (p *chitStorageService) Init(ctx context.Context) error {
	logger := p.Logger(ctx)
	p.idGen = utils.NewIDGenerator()
	p.storeTimeout = time.Duration(p.Config().StoreTimeoutMs) * time.Millisecond
	if p.storeTimeout <= 0 {
		p.storeTimeout = 5 * time.Second
	}

	var err error
	p.mongoClient, err = storage.MongoDBClient(ctx, p.Config().MongoDBAddr, p.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	p.redisClient = storage.RedisClient(p.Config().RedisAddr, p.Config().RedisPort)

	p.amqChannel, p.amqConnection, err = storage.RabbitMQClient(ctx, p.Config().RabbitMQUsername, p.Config().RabbitMQPassword, p.Config().RabbitMQAddr, p.Config().RabbitMQPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	logger.Info("chit storage service running!",
		"mongodb_addr", p.Config().MongoDBAddr, "mongodb_port", p.Config().MongoDBPort,
		"redis_addr", p.Config().RedisAddr, "redis_port", p.Config().RedisPort,
		"rabbitmq_addr", p.Config().RabbitMQAddr, "rabbitmq_port", p.Config().RabbitMQPort,
	)
	return nil
}

func (p *chitStorageService) chits() *mongo.Collection {
	return p.mongoClient.Database("chitstorage").Collection("chits")
}

func (p *chitStorageService) StoreChit(ctx context.Context, reqID int64, authorID int64, content string, location *model.Location, imageRef string) (model.Chit, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering StoreChit", "req_id", reqID, "author_id", authorID, "content", content)

	if err := validateChitInput(content, location, imageRef); err != nil {
		return model.Chit{}, err
	}
	if _, err := p.identityService.Get().GetProfile(ctx, reqID, authorID); err != nil {
		return model.Chit{}, err
	}

	chitID, err := p.idGen.Next()
	if err != nil {
		logger.Error("error generating chit id", "msg", err.Error())
		return model.Chit{}, errs.New(errs.StoreUnavailable, "generating chit id: %v", err)
	}
	chit := model.Chit{
		ChitID:   chitID,
		AuthorID: authorID,
		Content:  content,
		Location: location,
		ImageRef: imageRef,
		// second granularity; chit_id breaks same-second ties
		CreatedAt: time.Now().Unix(),
	}

	storeStartMs := time.Now().UnixMilli()
	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	_, err = p.chits().InsertOne(storeCtx, chit)
	if err != nil {
		logger.Error("error writing chit", "msg", err.Error())
		return model.Chit{}, errs.New(errs.StoreUnavailable, "writing chit store: %v", err)
	}
	sn_metrics.ComposedChits.Inc()

	trace.SpanFromContext(ctx).AddEvent("stored chit in mongodb",
		trace.WithAttributes(
			attribute.Int64("chit_id", chitID),
			attribute.Int64("chitstorage_start_ms", storeStartMs),
			attribute.Int64("chitstorage_end_ms", time.Now().UnixMilli()),
		))

	p.cacheChit(ctx, chit)

	// fan-out is best effort cache warming; mongo already holds the chit
	if err := p.publishChitPosted(ctx, reqID, chit); err != nil {
		logger.Warn("error publishing chit-posted message", "msg", err.Error())
	}
	return chit, nil
}

func (p *chitStorageService) cacheChit(ctx context.Context, chit model.Chit) {
	logger := p.Logger(ctx)
	chitJSON, err := json.Marshal(chit)
	if err != nil {
		logger.Error("error converting chit to json", "chit", chit)
		return
	}
	if err := p.redisClient.Set(ctx, chitCacheKey(chit.ChitID), chitJSON, 0).Err(); err != nil {
		logger.Error("error writing chit to redis", "msg", err.Error())
	}
}

func (p *chitStorageService) publishChitPosted(ctx context.Context, reqID int64, chit model.Chit) error {
	spanContext := trace.SpanContextFromContext(ctx)
	msg := model.ChitPosted{
		ReqID:              reqID,
		ChitID:             chit.ChitID,
		AuthorID:           chit.AuthorID,
		Timestamp:          chit.CreatedAt,
		SpanContext:        sn_trace.BuildSpanContext(spanContext),
		NotificationSendTs: time.Now().UnixMilli(),
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = p.amqChannel.ExchangeDeclare(chitPostedExchange, "topic", false, false, false, false, nil)
	if err != nil {
		return err
	}
	amqMsg := amqp.Publishing{
		ContentType: "application/json",
		Body:        msgJSON,
	}
	return p.amqChannel.PublishWithContext(ctx, chitPostedExchange, chitPostedExchange, false, false, amqMsg)
}

// ListChits returns the author's chits ordered by (created_at desc, chit_id asc).
func (p *chitStorageService) ListChits(ctx context.Context, reqID int64, authorID int64) ([]model.Chit, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering ListChits", "req_id", reqID, "author_id", authorID)

	if _, err := p.identityService.Get().GetProfile(ctx, reqID, authorID); err != nil {
		return nil, err
	}

	var chits []model.Chit
	scan := func(ctx context.Context) error {
		storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
		defer cancel()
		filter := bson.D{
			{Key: "author_id", Value: authorID},
		}
		sort := bson.D{
			{Key: "created_at", Value: -1},
			{Key: "chit_id", Value: 1},
		}
		cur, err := p.chits().Find(storeCtx, filter, options.Find().SetSort(sort))
		if err != nil {
			return err
		}
		defer cur.Close(storeCtx)
		chits = chits[:0]
		for cur.Next(storeCtx) {
			var chit model.Chit
			if err := cur.Decode(&chit); err != nil {
				return err
			}
			chits = append(chits, chit)
		}
		return cur.Err()
	}
	err := utils.RetryRead(ctx, scan, func(error) bool { return true })
	if err != nil {
		logger.Error("error reading chits from mongodb", "msg", err.Error())
		return nil, errs.New(errs.StoreUnavailable, "reading chit store: %v", err)
	}
	return chits, nil
}

// ReadChits resolves chit ids to chit bodies: redis first, mongodb backfill.
// Ids with no backing record are skipped and counted as inconsistencies.
func (p *chitStorageService) ReadChits(ctx context.Context, reqID int64, chitIDs []int64) ([]model.Chit, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering ReadChits", "req_id", reqID, "num_chits", len(chitIDs))

	if len(chitIDs) == 0 {
		return []model.Chit{}, nil
	}

	keys := make([]string, 0, len(chitIDs))
	for _, id := range chitIDs {
		keys = append(keys, chitCacheKey(id))
	}
	byID := make(map[int64]model.Chit, len(chitIDs))
	var missing []int64

	result, err := p.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Error("error reading chits from redis", "msg", err.Error())
		missing = chitIDs
	} else {
		for i, data := range result {
			raw, ok := data.(string)
			if !ok {
				missing = append(missing, chitIDs[i])
				continue
			}
			var chit model.Chit
			if err := json.Unmarshal([]byte(raw), &chit); err != nil {
				logger.Error("error parsing chit from redis result", "msg", err.Error())
				missing = append(missing, chitIDs[i])
				continue
			}
			byID[chit.ChitID] = chit
		}
	}

	if len(missing) > 0 {
		var fetched []model.Chit
		scan := func(ctx context.Context) error {
			storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
			defer cancel()
			filter := bson.M{
				"chit_id": bson.M{"$in": missing},
			}
			cur, err := p.chits().Find(storeCtx, filter)
			if err != nil {
				return err
			}
			defer cur.Close(storeCtx)
			fetched = fetched[:0]
			for cur.Next(storeCtx) {
				var chit model.Chit
				if err := cur.Decode(&chit); err != nil {
					return err
				}
				fetched = append(fetched, chit)
			}
			return cur.Err()
		}
		err := utils.RetryRead(ctx, scan, func(error) bool { return true })
		if err != nil {
			logger.Error("error reading chits from mongodb", "msg", err.Error())
			return nil, errs.New(errs.StoreUnavailable, "reading chit store: %v", err)
		}

		var wg sync.WaitGroup
		for _, chit := range fetched {
			byID[chit.ChitID] = chit
			wg.Add(1)
			go func(chit model.Chit) {
				defer wg.Done()
				p.cacheChit(ctx, chit)
			}(chit)
		}
		wg.Wait()
	}

	chits := make([]model.Chit, 0, len(chitIDs))
	for _, id := range chitIDs {
		chit, ok := byID[id]
		if !ok {
			// cached id without a backing record, e.g. a deleted chit
			// still referenced by a stale timeline
			sn_metrics.Inconsistencies.Inc()
			continue
		}
		chits = append(chits, chit)
	}
	return chits, nil
}

func (p *chitStorageService) DeleteChit(ctx context.Context, reqID int64, authorID int64, chitID int64, callerID int64) error {
	logger := p.Logger(ctx)
	logger.Debug("entering DeleteChit", "req_id", reqID, "author_id", authorID, "chit_id", chitID, "caller_id", callerID)

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	filter := bson.D{
		{Key: "chit_id", Value: chitID},
		{Key: "author_id", Value: authorID},
	}
	err := p.chits().FindOne(storeCtx, filter).Err()
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return errs.New(errs.NotFound, "chit %d of user %d does not exist", chitID, authorID)
		}
		logger.Error("error finding chit in mongodb", "msg", err.Error())
		return errs.New(errs.StoreUnavailable, "reading chit store: %v", err)
	}
	if err := checkChitAuthor(callerID, authorID, chitID); err != nil {
		return err
	}

	_, err = p.chits().DeleteOne(storeCtx, filter)
	if err != nil {
		logger.Error("error deleting chit in mongodb", "msg", err.Error())
		return errs.New(errs.StoreUnavailable, "writing chit store: %v", err)
	}
	sn_metrics.DeletedChits.Inc()

	_, err = p.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, chitCacheKey(chitID))
		pipe.ZRem(ctx, globalFeedKey, chitID)
		pipe.Del(ctx, homeTimelineKey(authorID))
		return nil
	})
	if err != nil {
		logger.Error("error pruning chit caches in redis", "msg", err.Error())
	}
	return nil
}
