// Package queue provides a driver-agnostic background job queue with retries,
// a permanent failure archive, lifecycle events and an in-memory scheduler.
//
// The package is organised around four components:
//
//   - Job        the unit of work; embed BaseJob for defaults and fluent setters
//   - JobQueue   pushes envelopes and runs the pop / execute / retry / fail cycle
//   - Driver     stores envelopes and reserves them for exactly one consumer
//   - Scheduler  pushes one-shot and recurring entries when they become due
//
// Storage lives behind the Driver interface. MemoryDriver ships in this package;
// SQL and Redis Streams drivers live in the database and redisstream subpackages.
//
// # Lifecycle
//
// Every push stores an Envelope in the pending state. A worker pops it (pending to
// processing), rebuilds the job from the Registry and calls Handle. Success marks the
// envelope completed. A failure either schedules a retry after RetryDelay*attempts or,
// once retries are exhausted, marks it failed and archives a FailedJob record exactly
// once. Archived failures can be listed and re-queued as fresh envelopes.
//
// # Usage
//
//	type WelcomeEmail struct{ queue.BaseJob }
//
//	func (j *WelcomeEmail) Handle(ctx context.Context, data json.RawMessage) (any, error) {
//		in, err := queue.Decode[struct{ UserID int64 }](data)
//		if err != nil {
//			return nil, err
//		}
//		return nil, sendWelcome(ctx, in.UserID)
//	}
//
//	q, _ := queue.New(queue.NewMemoryDriver())
//	_ = q.Register(func() queue.Job { return &WelcomeEmail{} })
//
//	id, err := q.Push(ctx, &WelcomeEmail{}, map[string]int64{"UserID": 42})
//
//	go q.Work(ctx, "default", 0)
//
// Recurring work:
//
//	s, _ := queue.NewScheduler(q, queue.WithCheckInterval(30*time.Second))
//	_, _ = s.Daily(&Report{}, "08:00", nil, "reports")
//	go s.Run(ctx)
//
// # Error Handling
//
// Package-level sentinel errors (e.g. ErrJobNotRegistered, ErrUnknownJobType,
// ErrFailedJobNotFound) can be checked with errors.Is. Storage failures are wrapped
// with ErrPushFailed or ErrPopFailed and keep the driver error in the chain.
package queue
