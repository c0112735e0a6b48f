// Package logger builds slog loggers for queue workers and provides attribute
// helpers so every component names job fields the same way.
//
// New returns a *slog.Logger writing JSON or text. Its handler is wrapped by
// LogHandlerDecorator, which appends attributes stored in the context with
// WithAttrs. The queue worker stores the job id, queue and attempt in the
// context it passes to job handlers, so a handler that logs with that context
// gets them for free:
//
//	log := logger.New(logger.WithEnvironment("production", "mailer"))
//
//	func (j *SendEmail) Handle(ctx context.Context, data json.RawMessage) (any, error) {
//	    log.InfoContext(ctx, "sending email") // job_id, queue and attempt included
//	    ...
//	}
package logger
