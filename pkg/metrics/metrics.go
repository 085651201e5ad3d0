package metrics

import "github.com/ServiceWeaver/weaver/metrics"

var (
	// identity service
	RegisteredUsers = metrics.NewCounter(
		"chitter_registered_users",
		"The number of successfully registered users",
	)
	// chit storage service
	ComposedChits = metrics.NewCounter(
		"chitter_composed_chits",
		"The number of stored chits",
	)
	DeletedChits = metrics.NewCounter(
		"chitter_deleted_chits",
		"The number of deleted chits",
	)
	// feed service
	FeedReadDurationMs = metrics.NewHistogram(
		"chitter_feed_read_duration_ms",
		"Duration of a feed aggregation in milliseconds",
		metrics.NonNegativeBuckets,
	)
	FeedCacheRebuilds = metrics.NewCounter(
		"chitter_feed_cache_rebuilds",
		"The number of times a feed was recomputed from a full author scan",
	)
	// home timeline fanout
	FanoutNotifications = metrics.NewCounter(
		"chitter_fanout_notifications",
		"The number of chit-posted notifications received by the fanout workers",
	)
	FanoutDurationMs = metrics.NewHistogram(
		"chitter_fanout_duration_ms",
		"Time between publishing a chit-posted message and its fanout in milliseconds",
		metrics.NonNegativeBuckets,
	)
	Inconsistencies = metrics.NewCounter(
		"chitter_inconsistencies",
		"The number of times a cached chit id had no backing record",
	)
)
