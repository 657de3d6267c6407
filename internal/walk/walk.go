// Package walk provides an iterative, stack-based file-system traversal that
// never follows symbolic links and never recurses on the call stack.
package walk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"go.uber.org/zap"
)

// DefaultIgnore lists directory names that are never descended into.
var DefaultIgnore = []string{"node_modules"}

// ErrWalked is returned when a Walker is used a second time.
var ErrWalked = errors.New("walk: walker already used")

// Entry is one file-system entry found during traversal.
type Entry struct {
	Path      string // Absolute path of the entry
	Name      string // Final path component
	IsDir     bool   // Directory, determined without following links
	IsSymlink bool   // Symbolic link
}

// VisitFunc is called once for every entry below the root.
// A returned error is passed to the ErrorFunc and the walk continues.
type VisitFunc func(entry Entry) error

// ErrorFunc receives per-entry failures. Returning a non-nil error aborts the
// walk with that error.
type ErrorFunc func(path string, err error) error

// Options configures a Walker.
type Options struct {
	Ignore        []string  // Directory names not descended into; nil means DefaultIgnore
	IncludeHidden bool      // Descend into directories whose name starts with "."
	OnError       ErrorFunc // Per-entry error handler; nil drops errors
	Logger        *zap.Logger
}

// Stats holds traversal counters.
type Stats struct {
	DirsRead int64 // Directories successfully opened, root included
	Entries  int64 // Entries passed to the VisitFunc
	Errors   int64 // Errors passed to the ErrorFunc
}

// Walker traverses a tree once. It is not safe for concurrent use.
type Walker struct {
	root    string
	opts    Options
	ignore  map[string]struct{}
	logger  *zap.Logger
	stack   []string
	scratch []byte
	stats   Stats
	used    bool
}

// New creates a Walker for root. root is made absolute.
func New(root string, opts Options) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}

	ignore := opts.Ignore
	if ignore == nil {
		ignore = DefaultIgnore
	}
	set := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		if name = strings.TrimSpace(name); name != "" {
			set[name] = struct{}{}
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Walker{
		root:    abs,
		opts:    opts,
		ignore:  set,
		logger:  logger,
		stack:   make([]string, 0, 512),
		scratch: make([]byte, godirwalk.MinimumScratchBufferSize),
	}, nil
}

// Root returns the absolute root path.
func (w *Walker) Root() string {
	return w.root
}

// Stats returns the traversal counters.
func (w *Walker) Stats() Stats {
	return w.stats
}

// Walk visits every entry below the root. Traversal order is unspecified.
//
// The only errors returned are a failure to read the root itself, an error
// returned by the ErrorFunc, or the context's error if it is done between
// two directories.
func (w *Walker) Walk(ctx context.Context, visit VisitFunc) error {
	if w.used {
		return ErrWalked
	}
	w.used = true

	scanner, err := godirwalk.NewScannerWithScratchBuffer(w.root, w.scratch)
	if err != nil {
		return fmt.Errorf("read root %q: %w", w.root, err)
	}
	w.logger.Debug("starting walk", zap.String("root", w.root))
	readErr, err := w.scan(w.root, scanner, visit)
	if err != nil {
		return err
	}
	if readErr != nil {
		return fmt.Errorf("read root %q: %w", w.root, readErr)
	}

	for len(w.stack) > 0 {
		if err := ctx.Err(); err != nil {
			w.logger.Debug("walk canceled", zap.Int("pending_dirs", len(w.stack)))
			return err
		}

		dir := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]

		scanner, err := godirwalk.NewScannerWithScratchBuffer(dir, w.scratch)
		if err != nil {
			if aerr := w.report(dir, err); aerr != nil {
				return aerr
			}
			continue
		}
		readErr, err := w.scan(dir, scanner, visit)
		if err != nil {
			return err
		}
		if readErr != nil {
			if aerr := w.report(dir, readErr); aerr != nil {
				return aerr
			}
		}
	}
	return nil
}

// scan reads one directory. readErr is the failure that ended the read
// early, if any; err is an abort requested by the ErrorFunc.
func (w *Walker) scan(dir string, scanner *godirwalk.Scanner, visit VisitFunc) (readErr, err error) {
	w.stats.DirsRead++

	for scanner.Scan() {
		de, err := scanner.Dirent()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Removed between the directory read and the type lookup.
				continue
			}
			if aerr := w.report(filepath.Join(dir, scanner.Name()), err); aerr != nil {
				_ = scanner.Close()
				return nil, aerr
			}
			continue
		}

		if err := w.visit(dir, de, visit); err != nil {
			_ = scanner.Close()
			return nil, err
		}
	}
	return scanner.Err(), nil
}

func (w *Walker) visit(dir string, de *godirwalk.Dirent, visit VisitFunc) error {
	entry := Entry{
		Path:      filepath.Join(dir, de.Name()),
		Name:      de.Name(),
		IsDir:     de.IsDir(),
		IsSymlink: de.IsSymlink(),
	}
	w.stats.Entries++

	if err := visit(entry); err != nil {
		if aerr := w.report(entry.Path, err); aerr != nil {
			return aerr
		}
	}

	if entry.IsDir {
		if skip, reason := w.shouldSkipDir(entry.Name); skip {
			w.logger.Debug("not descending", zap.String("path", entry.Path), zap.String("reason", reason))
			return nil
		}
		w.stack = append(w.stack, entry.Path)
	}
	return nil
}

// shouldSkipDir applies the ignore list and the hidden-name rule.
func (w *Walker) shouldSkipDir(name string) (bool, string) {
	if _, ok := w.ignore[name]; ok {
		return true, "ignored"
	}
	if !w.opts.IncludeHidden && isHidden(name) {
		return true, "hidden"
	}
	return false, ""
}

func (w *Walker) report(path string, err error) error {
	w.stats.Errors++
	if w.opts.OnError == nil {
		return nil
	}
	return w.opts.OnError(path, err)
}

// isHidden checks if a name is hidden
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
