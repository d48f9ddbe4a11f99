// Package upload transfers the files a remote deploy still needs, with
// bounded parallelism and retries.
package upload

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcdonaldj/sitedrop/internal/deployerr"
	"github.com/mcdonaldj/sitedrop/internal/logging"
	"github.com/mcdonaldj/sitedrop/internal/manifest"
	"github.com/mcdonaldj/sitedrop/internal/metrics"
	"github.com/mcdonaldj/sitedrop/internal/ports"
	"github.com/mcdonaldj/sitedrop/internal/retry"
	"github.com/mcdonaldj/sitedrop/internal/session"
)

// Task is one file to send.
type Task struct {
	Path   string
	Digest string
	Size   int64
}

// Report summarizes a finished Run.
type Report struct {
	// Tasks is the number of distinct digests the remote required.
	Tasks int
	// Uploaded counts files the remote acknowledged.
	Uploaded int
	// Attempts counts every upload call, retries included.
	Attempts int
	// Bytes is the size of every acknowledged file.
	Bytes int64
}

// Options configures a Scheduler.
type Options struct {
	// Workers bounds parallel uploads within one deployment.
	Workers int
	// CallTimeout bounds a single upload attempt.
	CallTimeout time.Duration
	Retry       retry.Policy
}

// DefaultOptions returns the settings used unless configured.
func DefaultOptions() Options {
	return Options{
		Workers:     8,
		CallTimeout: 60 * time.Second,
		Retry:       retry.DefaultPolicy(),
	}
}

// Scheduler uploads required files for a session.
type Scheduler struct {
	api     ports.DeployAPI
	fsys    ports.FileSystem
	pool    *Pool
	opts    Options
	metrics metrics.Metrics
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler. pool is shared by every deployment;
// a nil pool gets a private one sized to opts.Workers.
func NewScheduler(api ports.DeployAPI, fsys ports.FileSystem, pool *Pool, opts Options, m metrics.Metrics, logger *slog.Logger) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if pool == nil {
		pool = NewPool(opts.Workers)
	}
	// Workers beyond the shared slots would only queue.
	if opts.Workers > pool.Size() {
		opts.Workers = pool.Size()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Scheduler{
		api:     api,
		fsys:    fsys,
		pool:    pool,
		opts:    opts,
		metrics: m,
		logger:  logging.Component(logger, "upload"),
	}
}

// Plan turns the required digests into tasks. The remote deduplicates by
// digest, so each digest is sent once using the first path that carries it.
func Plan(view session.View, fm *manifest.FileManifest) ([]Task, error) {
	required := view.Required()
	tasks := make([]Task, 0, len(required))
	seen := make(map[string]bool, len(required))
	for _, digest := range required {
		if seen[digest] {
			continue
		}
		seen[digest] = true
		paths := fm.PathsFor(digest)
		if len(paths) == 0 {
			return nil, deployerr.New(deployerr.ManifestRejected, "remote requested unknown digest %s", digest)
		}
		entry, _ := fm.Lookup(paths[0])
		tasks = append(tasks, Task{Path: entry.Path, Digest: digest, Size: entry.Size})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Path < tasks[j].Path })
	return tasks, nil
}

// Run uploads every required file of the session from root. The first
// permanent failure stops new uploads and is returned as UploadFailed.
func (s *Scheduler) Run(ctx context.Context, view session.View, fm *manifest.FileManifest, root string) (Report, error) {
	tasks, err := Plan(view, fm)
	if err != nil {
		return Report{}, err
	}

	report := Report{Tasks: len(tasks)}
	if len(tasks) == 0 {
		return report, nil
	}

	deployID := view.DeployID()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, t := range tasks {
		t := t
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			attempts, err := s.send(gctx, deployID, root, t)
			mu.Lock()
			report.Attempts += attempts
			if err == nil {
				report.Uploaded++
				report.Bytes += t.Size
			}
			mu.Unlock()
			return err
		})
	}

	err = g.Wait()
	if ctx.Err() != nil && report.Uploaded < report.Tasks && (err == nil || errors.Is(err, context.Canceled)) {
		return report, deployerr.Wrap(deployerr.Canceled, ctx.Err(), "upload canceled after %d of %d files", report.Uploaded, report.Tasks)
	}
	if err != nil {
		return report, err
	}
	s.logger.Info("uploads complete",
		"deploy_id", deployID,
		"files", report.Uploaded,
		"attempts", report.Attempts,
		"bytes", report.Bytes,
	)
	return report, nil
}

// send uploads one file under the retry policy and returns the number of
// attempts made. A pool slot is held only while a request is in flight.
func (s *Scheduler) send(ctx context.Context, deployID, root string, t Task) (int, error) {
	full := filepath.Join(root, filepath.FromSlash(t.Path))
	attempts := 0

	err := s.opts.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := s.pool.Acquire(ctx); err != nil {
			return err
		}
		defer s.pool.Release()

		f, err := s.fsys.Open(full)
		if err != nil {
			return retry.Permanent(deployerr.Wrap(deployerr.UnreadableFile, err, "opening %s", t.Path))
		}
		defer f.Close()

		callCtx, cancel := s.callContext(ctx)
		defer cancel()

		attempts = attempt
		err = s.api.UploadFile(callCtx, deployID, t.Path, f, t.Size)
		if err == nil {
			s.metrics.IncUploads(metrics.UploadOK)
			s.metrics.AddUploadBytes(t.Size)
			s.logger.Debug("file acknowledged", "deploy_id", deployID, "path", t.Path, "attempt", attempt)
			return nil
		}
		if ctx.Err() == nil && retry.IsRetryable(err) {
			s.metrics.IncUploads(metrics.UploadRetry)
			s.logger.Warn("upload attempt failed", "deploy_id", deployID, "path", t.Path, "attempt", attempt, "error", err)
		} else {
			s.metrics.IncUploads(metrics.UploadFailed)
		}
		return err
	})
	if err == nil {
		return attempts, nil
	}

	if e, ok := deployerr.As(err); ok {
		return attempts, e
	}
	if ctx.Err() != nil {
		return attempts, err
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return attempts, deployerr.Wrap(deployerr.UploadFailed, err, "uploading %s failed after %d attempts", t.Path, exhausted.Attempts)
	}
	return attempts, deployerr.Wrap(deployerr.UploadFailed, err, "uploading %s", t.Path)
}

func (s *Scheduler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.CallTimeout)
}
