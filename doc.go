// Package jobqueue runs background jobs on a relational database, Redis
// Streams or process memory behind one API.
//
// Jobs is the entry point. It is built from a Config, usually loaded from the
// environment, and wires a driver, a queue and a scheduler on first use:
//
//	var cfg jobqueue.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
//	jobs := jobqueue.New(cfg,
//		jobqueue.WithLogger(log),
//		jobqueue.WithJobs(func() queue.Job { return &SendWelcomeEmail{} }),
//	)
//	defer jobs.Close()
//
//	id, err := jobs.Dispatch(ctx, &SendWelcomeEmail{}, WelcomeData{UserID: 42})
//
// Workers call Work in a loop per queue; the scheduler pushes recurring jobs:
//
//	go jobs.RunScheduler(ctx)
//	err := jobs.Work(ctx, "default", 0)
//
// Job types, envelopes, retries and scheduling live in package queue. The
// drivers live in queue/database and queue/redisstream.
package jobqueue
