// Package sink serializes progress and diagnostic lines to the standard streams.
//
// A Sink is created once per run and owns both writers for the whole run, so
// lines coming from the walker, the dispatcher and the process pool never
// interleave.
package sink

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Sink writes whole lines to an output and an error stream.
type Sink struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer

	verbose bool

	label *color.Color
	arrow *color.Color
	fail  *color.Color
}

// New creates a Sink. Colors are only used when errW is a terminal.
func New(outW, errW io.Writer, verbose bool) *Sink {
	s := &Sink{
		out:     outW,
		err:     errW,
		verbose: verbose,
		label:   color.New(color.FgRed, color.Bold),
		arrow:   color.New(color.FgYellow),
		fail:    color.New(color.FgRed),
	}

	if !isTerminal(errW) {
		s.label.DisableColor()
		s.arrow.DisableColor()
		s.fail.DisableColor()
	} else {
		s.label.EnableColor()
		s.arrow.EnableColor()
		s.fail.EnableColor()
	}
	return s
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Printf writes one line to the output stream.
func (s *Sink) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

// Command echoes an external invocation when verbose output is enabled.
func (s *Sink) Command(program string, args []string, dir string) {
	if !s.verbose {
		return
	}
	s.Printf("%s %s: %q", program, quoteArgs(args), dir)
}

// Removal announces a direct recursive directory removal.
func (s *Sink) Removal(path string) {
	s.Printf("rm -rf %q", path)
}

// PathError reports a failure tied to a file-system path.
func (s *Sink) PathError(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.err, "%s %q %s %s\n",
		s.label.Sprint("Error in:"), path, s.arrow.Sprint("=>"), s.fail.Sprint(oneLine(err.Error())))
}

// OSError reports an operating-system failure not tied to any single path.
func (s *Sink) OSError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.err, "%s %s %s\n",
		s.label.Sprint("OS error"), s.arrow.Sprint("=>"), s.fail.Sprint(oneLine(err.Error())))
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// oneLine keeps every report on a single line.
func oneLine(s string) string {
	s = strings.TrimRight(s, "\r\n\t ")
	s = strings.ReplaceAll(s, "\r\n", `\n`)
	return strings.ReplaceAll(s, "\n", `\n`)
}
