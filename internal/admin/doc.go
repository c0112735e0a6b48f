// Package admin exposes a small HTTP surface for operating a worker process:
// readiness, queue statistics and the failed job archive.
//
// The handler depends only on the Queue interface, which *jobqueue.Jobs
// satisfies:
//
//	h := admin.NewHandler(jobs, log)
//	srv := admin.NewServer(admin.Config{Addr: ":8090"}, log)
//	go srv.Run(ctx, h)
//
// The endpoints are unauthenticated. Bind them to a private interface.
package admin
