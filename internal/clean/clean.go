// Package clean walks a tree, finds project roots by their marker files and
// cleans each one, either by running the project's own clean command or by
// removing its installed dependencies.
package clean

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"

	"github.com/TFMV/codeclean/internal/dispatch"
	"github.com/TFMV/codeclean/internal/procpool"
	"github.com/TFMV/codeclean/internal/sink"
	"github.com/TFMV/codeclean/internal/suppress"
	"github.com/TFMV/codeclean/internal/walk"
	"go.uber.org/zap"
)

// DefaultJobs is the default ceiling on concurrently running clean commands.
const DefaultJobs = procpool.DefaultCapacity

// Options configures a run.
type Options struct {
	Jobs          int            // Ceiling on concurrent children; 0 means DefaultJobs
	Verbose       bool           // Echo every command before it is started
	Ignore        []string       // Directory names never descended into; nil means walk.DefaultIgnore. node_modules is always added
	IncludeHidden bool           // Descend into hidden directories
	Suppress      []string       // Benign diagnostic substrings; nil means suppress.DefaultRules
	Table         dispatch.Table // Marker table; nil means dispatch.DefaultTable
	Stdout        io.Writer      // nil means os.Stdout
	Stderr        io.Writer      // nil means os.Stderr
	Logger        *zap.Logger
	LockDir       string // Where the run lock lives; "" means os.TempDir()
}

// Stats summarizes a run.
type Stats struct {
	Walk        walk.Stats
	Pool        procpool.Stats
	Removed     int64 // Dependency directories removed
	SpawnErrors int64 // Commands that could not be started
	Interrupted bool  // The walk stopped early because the context was done
}

type runner struct {
	sink       *sink.Sink
	pool       *procpool.Pool
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
	stats      *Stats
}

// Run cleans every project below root.
//
// Per-entry and per-command failures are written to Stderr and do not make
// Run fail. Run returns an error only when the root cannot be read or when
// the process bookkeeping is found to be inconsistent. Another run holding
// the lock for root is reported and does not stop this one. Every started
// child has exited when Run returns.
func Run(ctx context.Context, root string, opts Options) (stats Stats, err error) {
	if opts.Jobs == 0 {
		opts.Jobs = DefaultJobs
	}
	if opts.Jobs < 1 {
		return stats, fmt.Errorf("jobs must be greater than zero, got %d", opts.Jobs)
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := suppress.Default()
	if opts.Suppress != nil {
		policy = suppress.New(opts.Suppress)
	}

	out := sink.New(opts.Stdout, opts.Stderr, opts.Verbose)
	r := &runner{
		sink:       out,
		dispatcher: dispatch.New(opts.Table),
		logger:     logger,
		stats:      &stats,
	}

	ignore := opts.Ignore
	if ignore != nil && !slices.Contains(ignore, dispatch.DependencyDir) {
		// Installed dependencies are never cleaned as projects of their own.
		ignore = append(slices.Clone(ignore), dispatch.DependencyDir)
	}

	w, err := walk.New(root, walk.Options{
		Ignore:        ignore,
		IncludeHidden: opts.IncludeHidden,
		OnError:       r.onError,
		Logger:        logger,
	})
	if err != nil {
		return stats, err
	}

	if lock, err := acquireLock(opts.LockDir, w.Root()); err != nil {
		out.OSError(err)
		logger.Warn("running without the run lock", zap.Error(err))
	} else {
		defer lock.release()
	}

	pool, err := procpool.New(procpool.Options{
		Capacity: opts.Jobs,
		Reporter: out,
		Suppress: policy,
		Logger:   logger,
	})
	if err != nil {
		return stats, err
	}
	r.pool = pool
	defer func() {
		// Runs on every return path; a no-op after a successful drain.
		if cerr := pool.Close(); cerr != nil && err == nil {
			err = cerr
		}
		stats.Pool = pool.Stats()
		stats.Walk = w.Stats()
		logger.Info("run complete",
			zap.String("root", w.Root()),
			zap.Int64("dirs", stats.Walk.DirsRead),
			zap.Int64("entries", stats.Walk.Entries),
			zap.Int64("spawned", stats.Pool.Spawned),
			zap.Int64("failed", stats.Pool.Failed),
			zap.Int64("suppressed", stats.Pool.Suppressed),
			zap.Int64("removed", stats.Removed),
		)
	}()

	logger.Debug("run starting",
		zap.String("root", w.Root()),
		zap.Int("jobs", pool.Capacity()),
		zap.Strings("markers", r.dispatcher.Markers()),
		zap.Strings("suppress", policy.Rules()),
		zap.Strings("ignore", ignore),
	)
	out.Printf("Using %d jobs", pool.Capacity())

	if err := w.Walk(ctx, r.visit); err != nil {
		if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
			return stats, err
		}
		stats.Interrupted = true
		out.Printf("Interrupted, not scanning further")
	}

	out.Printf("Waiting for child processes to finish")
	if err := pool.Drain(); err != nil {
		return stats, err
	}
	out.Printf("Done")
	return stats, nil
}

// visit performs the action, if any, for one walked entry.
func (r *runner) visit(e walk.Entry) error {
	action, ok := r.dispatcher.Classify(e.Path)
	if !ok {
		return nil
	}

	switch action.Kind {
	case dispatch.Spawn:
		c := action.Command
		r.sink.Command(c.Program, c.Args, c.Dir)
		if err := r.pool.Submit(c); err != nil {
			var spawnErr *procpool.SpawnError
			if errors.As(err, &spawnErr) {
				r.stats.SpawnErrors++
			}
			return err
		}
	case dispatch.RemoveTree:
		r.removeTree(action.Path)
	}
	return nil
}

// removeTree deletes path only if it is a real directory, never a link.
func (r *runner) removeTree(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.sink.PathError(path, err)
		}
		return
	}
	if !info.IsDir() {
		r.logger.Debug("not a directory, leaving in place",
			zap.String("path", path), zap.Stringer("mode", info.Mode()))
		return
	}

	r.sink.Removal(path)
	if err := os.RemoveAll(path); err != nil {
		r.sink.PathError(path, err)
		return
	}
	r.stats.Removed++
}

// onError reports per-entry failures and stops the walk only on faults
// that leave the process bookkeeping untrustworthy.
func (r *runner) onError(path string, err error) error {
	if errors.Is(err, procpool.ErrUntrackedProcess) || errors.Is(err, procpool.ErrClosed) {
		return err
	}
	r.sink.PathError(path, err)
	return nil
}
