// Package redisstream implements queue.Driver on Redis Streams consumer groups.
//
// Every queue maps to one stream named TopicPrefix + queue. All workers join the
// same consumer group, so a message is delivered to exactly one consumer and
// stays in that consumer's pending entries list until it is acked. Messages
// left idle by a crashed consumer are claimed by the others after ClaimIdle.
//
// # Usage
//
//	client, err := redisstream.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	opts, err := redisstream.FromConfig(cfg)
//	if err != nil {
//	    return err
//	}
//	driver, err := redisstream.New(client, opts...)
//	if err != nil {
//	    return err
//	}
//	q, err := queue.New(driver)
//
// # Limitations
//
// A stream has no notion of availability time. Delayed and retried messages are
// read, found not due, and left pending until a later Pop sees them due, so
// ordering is per stream only and delays are approximate.
//
// Failed records and completed counters are kept in process memory. Exhausted
// jobs are additionally published to the dead-letter stream, which is the only
// durable trace of them. Stats are flagged Approximate.
package redisstream
