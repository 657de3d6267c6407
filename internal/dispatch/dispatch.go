// Package dispatch maps marker file names to clean actions.
package dispatch

import (
	"maps"
	"path/filepath"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// Kind identifies what an Action does.
type Kind int

const (
	// Spawn runs an external command through the process pool.
	Spawn Kind = iota
	// RemoveTree deletes a directory synchronously.
	RemoveTree
)

func (k Kind) String() string {
	switch k {
	case Spawn:
		return "spawn"
	case RemoveTree:
		return "remove-tree"
	default:
		return "unknown"
	}
}

// Command describes one external invocation.
type Command struct {
	Program string   // Program name, resolved through PATH
	Args    []string // Fixed argument list
	Dir     string   // Working directory
}

// Action is the result of classifying a path.
type Action struct {
	Kind    Kind
	Command Command // Set for Spawn
	Path    string  // Set for RemoveTree
}

// Rule builds the action for a marker found at path. dir is the marker's
// parent directory.
type Rule func(path, dir string) Action

// Table maps a final path-segment name to a Rule.
type Table map[string]Rule

// DependencyDir is the conventional sibling directory holding installed
// package dependencies.
const DependencyDir = "node_modules"

// SpawnRule returns a Rule running program with args in the marker's directory.
func SpawnRule(program string, args ...string) Rule {
	return func(path, dir string) Action {
		return Action{
			Kind:    Spawn,
			Command: Command{Program: program, Args: append([]string(nil), args...), Dir: dir},
		}
	}
}

// RemoveSiblingRule returns a Rule that removes the named sibling directory.
func RemoveSiblingRule(name string) Rule {
	return func(path, dir string) Action {
		return Action{Kind: RemoveTree, Path: filepath.Join(dir, name)}
	}
}

func cargoClean(path, dir string) Action {
	return Action{
		Kind: Spawn,
		Command: Command{
			Program: "cargo",
			Args:    []string{"clean", "--manifest-path", path},
			Dir:     dir,
		},
	}
}

// DefaultTable returns the built-in marker table.
func DefaultTable() Table {
	return Table{
		"Cargo.toml":   cargoClean,
		"Makefile":     SpawnRule("make", "clean"),
		"build.ninja":  SpawnRule("ninja", "clean"),
		"gradlew":      SpawnRule("./gradlew", "clean"),
		".git":         SpawnRule("git", "gc"),
		"package.json": RemoveSiblingRule(DependencyDir),
	}
}

// Dispatcher classifies paths using a Table.
type Dispatcher struct {
	table Table
}

// New creates a Dispatcher. A nil table means DefaultTable.
func New(table Table) *Dispatcher {
	if table == nil {
		table = DefaultTable()
	}
	normalized := make(Table, len(table))
	for name, rule := range table {
		normalized[norm.NFC.String(name)] = rule
	}
	return &Dispatcher{table: normalized}
}

// Classify returns the action for path, if its final component is a marker.
// path must be absolute.
func (d *Dispatcher) Classify(path string) (Action, bool) {
	name := filepath.Base(path)
	rule, ok := d.table[name]
	if !ok {
		// Some file systems hand back names in decomposed form.
		rule, ok = d.table[norm.NFC.String(name)]
		if !ok {
			return Action{}, false
		}
	}
	return rule(path, filepath.Dir(path)), true
}

// Markers returns the sorted marker names known to the dispatcher.
func (d *Dispatcher) Markers() []string {
	return slices.Sorted(maps.Keys(d.table))
}
