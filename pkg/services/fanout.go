package services

import (
	"context"
	"encoding/json"
	"time"

	sn_metrics "chitter/pkg/metrics"
	"chitter/pkg/model"
	"chitter/pkg/storage"
	sn_trace "chitter/pkg/trace"

	"github.com/ServiceWeaver/weaver"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HomeTimelineFanout consumes chit-posted messages and pushes the new chit id
// into the cached feeds of the author's followers, so repeated feed reads do
// not pay the full author scan. The fanout only extends caches that already
// exist; the feed service rebuilds cold ones from the store.
type HomeTimelineFanout interface {
	// no rpc methods; the component is driven by the message bus
}

type homeTimelineFanout struct {
	weaver.Implements[HomeTimelineFanout]
	weaver.WithConfig[homeTimelineFanoutOptions]
	socialGraphService weaver.Ref[SocialGraphService]
	redisClient        *redis.Client
}

type homeTimelineFanoutOptions struct {
	RabbitMQAddr     string `toml:"rabbitmq_address"`
	RabbitMQPort     int    `toml:"rabbitmq_port"`
	RabbitMQUsername string `toml:"rabbitmq_username"`
	RabbitMQPassword string `toml:"rabbitmq_password"`
	RedisAddr        string `toml:"redis_address"`
	RedisPort        int    `toml:"redis_port"`
	NumWorkers       int    `toml:"num_workers"`
}

func (w *homeTimelineFanout) Init(ctx context.Context) error {
	logger := w.Logger(ctx)

	w.redisClient = storage.RedisClient(w.Config().RedisAddr, w.Config().RedisPort)

	numWorkers := w.Config().NumWorkers
	if numWorkers <= 0 {
		numWorkers = 4
	}
	logger.Info("initializing workers for home timeline fanout", "num_workers", numWorkers,
		"rabbitmq_addr", w.Config().RabbitMQAddr, "rabbitmq_port", w.Config().RabbitMQPort)
	for i := 0; i < numWorkers; i++ {
		go func() {
			err := w.workerThread(ctx)
			if err != nil {
				logger.Error("error in worker thread", "msg", err.Error())
			}
		}()
	}
	return nil
}

func (w *homeTimelineFanout) workerThread(ctx context.Context) error {
	logger := w.Logger(ctx)

	ch, conn, err := storage.RabbitMQClient(ctx, w.Config().RabbitMQUsername, w.Config().RabbitMQPassword, w.Config().RabbitMQAddr, w.Config().RabbitMQPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	defer conn.Close()
	defer ch.Close()

	err = ch.ExchangeDeclare(chitPostedExchange, "topic", false, false, false, false, nil)
	if err != nil {
		logger.Error("error declaring exchange for rabbitmq", "msg", err.Error())
		return err
	}
	_, err = ch.QueueDeclare(chitPostedExchange, true, false, false, false, nil)
	if err != nil {
		logger.Error("error declaring queue for rabbitmq", "msg", err.Error())
		return err
	}
	err = ch.QueueBind(chitPostedExchange, chitPostedExchange, chitPostedExchange, false, nil)
	if err != nil {
		logger.Error("error binding queue for rabbitmq", "msg", err.Error())
		return err
	}
	msgs, err := ch.Consume(chitPostedExchange, "", true, false, false, false, nil)
	if err != nil {
		logger.Error("error consuming queue", "msg", err.Error())
		return err
	}

	for msg := range msgs {
		if err := w.onReceived(ctx, msg.Body); err != nil {
			logger.Warn("error handling chit-posted message", "msg", err.Error())
		}
	}
	return nil
}

func (w *homeTimelineFanout) onReceived(ctx context.Context, body []byte) error {
	logger := w.Logger(ctx)

	var msg model.ChitPosted
	err := json.Unmarshal(body, &msg)
	if err != nil {
		logger.Error("error parsing json message", "msg", err.Error())
		return err
	}
	sn_metrics.FanoutNotifications.Inc()
	sn_metrics.FanoutDurationMs.Put(float64(time.Now().UnixMilli() - msg.NotificationSendTs))

	logger.Debug("received chit-posted message", "chit_id", msg.ChitID, "author_id", msg.AuthorID)

	// continue the publisher's trace
	spanContext, err := sn_trace.ParseSpanContext(msg.SpanContext)
	if err == nil && spanContext.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, spanContext)
	}
	trace.SpanFromContext(ctx).AddEvent("fanning out chit",
		trace.WithAttributes(
			attribute.Int64("chit_id", msg.ChitID),
		))

	followerIDs, err := w.socialGraphService.Get().GetFollowers(ctx, msg.ReqID, msg.AuthorID)
	if err != nil {
		logger.Error("error reading followers for fanout", "msg", err.Error())
		return err
	}

	// the author sees their own chits; the global feed sees everything
	timelines := []string{globalFeedKey, homeTimelineKey(msg.AuthorID)}
	for _, followerID := range followerIDs {
		timelines = append(timelines, homeTimelineKey(followerID))
	}
	_, err = w.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range timelines {
			if w.redisClient.Exists(ctx, key).Val() == 0 {
				continue
			}
			err := pipe.ZAddNX(ctx, key, redis.Z{
				Member: msg.ChitID,
				Score:  float64(msg.Timestamp),
			}).Err()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("error fanning out chit to redis timelines", "msg", err.Error())
		return err
	}
	return nil
}
