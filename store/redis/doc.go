// Package redis provides a Redis-backed checkpoint saver built on go-redis.
// It suits deployments that already run Redis and want checkpoint durability
// without a relational database.
//
// Each checkpoint is a hash holding the snapshot, its metadata and the
// parent checkpoint id. A per-thread sorted set indexes checkpoint ids
// lexically, which keeps "latest", "before" and "limit" queries cheap
// because checkpoint ids sort chronologically. Pending task writes live in a
// hash per checkpoint, one field per (task, index), written with HSETNX so
// retried tasks never overwrite earlier results.
//
// Basic usage:
//
//	saver := redis.NewRedisSaver(redis.RedisOptions{
//		Addr: "localhost:6379",
//		TTL:  24 * time.Hour,
//	})
//	defer saver.Close()
//
//	cfg := store.Config{ThreadID: "thread-1"}
//	next, err := saver.Put(ctx, cfg, checkpoint, metadata)
//
// Metadata filtering in List is evaluated client side after the index scan;
// keep filters for low-volume administrative queries.
package redis
