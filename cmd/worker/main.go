// Command worker runs queue workers, the scheduler and an optional admin
// endpoint in one process.
//
//	worker -queue default -workers 4 -schedule schedule.yaml -admin :8090
//
// Schedule entries without a queue are pushed to the -queue this process
// consumes.
//
// Configuration comes from the environment (see jobqueue.Config); -env loads
// an extra dotenv file first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobqueue"
	"github.com/dmitrymomot/jobqueue/internal/admin"
	"github.com/dmitrymomot/jobqueue/pkg/config"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
	"github.com/dmitrymomot/jobqueue/pkg/queue"
	"github.com/dmitrymomot/jobqueue/pkg/webhook"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Service  string `env:"APP_SERVICE" envDefault:"jobqueue-worker"`
	LogLevel string `env:"LOG_LEVEL"`

	Jobs    jobqueue.Config
	Admin   admin.Config
	Webhook webhook.Config
}

type flags struct {
	queue     string
	maxJobs   int
	workers   int
	schedule  string
	scheduler bool
	adminAddr string
	envFile   string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.StringVar(&f.queue, "queue", "", "queue to consume; empty means the configured default")
	fs.IntVar(&f.maxJobs, "max-jobs", 0, "exit after this many jobs per worker; 0 means unbounded")
	fs.IntVar(&f.workers, "workers", 0, "number of worker loops; 0 means QUEUE_MAX_WORKERS")
	fs.StringVar(&f.schedule, "schedule", "", "YAML file with recurring jobs")
	fs.BoolVar(&f.scheduler, "scheduler", false, "run the scheduler even without a schedule file")
	fs.StringVar(&f.adminAddr, "admin", "", "admin endpoint address; overrides ADMIN_ADDR")
	fs.StringVar(&f.envFile, "env", "", "dotenv file to load before reading the environment")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.maxJobs < 0 || f.workers < 0 {
		return f, errors.New("max-jobs and workers must not be negative")
	}
	return f, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	if f.envFile != "" {
		if err := config.LoadEnv(f.envFile); err != nil {
			return err
		}
	}
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}
	if f.adminAddr != "" {
		cfg.Admin.Addr = f.adminAddr
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Service),
		logger.WithLevelName(cfg.LogLevel),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs := jobqueue.New(cfg.Jobs, jobqueue.WithLogger(log))
	defer func() {
		if err := jobs.Close(); err != nil {
			log.Error("failed to close queue", logger.Error(err))
		}
	}()

	factories := builtinJobs(jobs, webhook.NewFromConfig(cfg.Webhook), log)
	for _, factory := range factories {
		if err := jobs.Register(factory); err != nil {
			return err
		}
	}

	if _, err := jobs.Queue(ctx); err != nil {
		return err
	}

	return serve(ctx, jobs, cfg, f, factories, log)
}

func serve(ctx context.Context, jobs *jobqueue.Jobs, cfg appConfig, f flags, factories map[string]queue.JobFactory, log *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	workers := f.workers
	if workers == 0 {
		workers = max(cfg.Jobs.Queue.MaxWorkers, 1)
	}
	for i := range workers {
		g.Go(func() error {
			err := jobs.Work(ctx, f.queue, f.maxJobs)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			// A loop that ends on its own (max jobs or memory limit) takes the
			// process down so the supervisor starts a fresh one.
			return errWorkerExited
		})
	}

	if f.schedule != "" || f.scheduler {
		if f.schedule != "" {
			file, err := loadSchedule(f.schedule)
			if err != nil {
				return err
			}
			s, err := jobs.Scheduler(ctx)
			if err != nil {
				return err
			}
			n, err := file.apply(ctx, s, factories, f.queue)
			if err != nil {
				return err
			}
			log.Info("schedule loaded", slog.String("file", f.schedule), slog.Int("entries", n))
		}
		g.Go(func() error {
			if err := jobs.RunScheduler(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if cfg.Admin.Addr != "" {
		srv := admin.NewServer(cfg.Admin, log)
		g.Go(func() error {
			return srv.Run(ctx, admin.NewHandler(jobs, log))
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		jobs.Stop()
		return nil
	})

	log.Info("worker process started",
		slog.Int("workers", workers),
		logger.Queue(f.queue),
		slog.String("driver", cfg.Jobs.Driver))

	if err := g.Wait(); err != nil && !errors.Is(err, errWorkerExited) {
		return err
	}
	log.Info("worker process stopped")
	return nil
}

var errWorkerExited = errors.New("worker loop exited")
