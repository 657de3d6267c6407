//go:build unix

package clean

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TFMV/codeclean/internal/dispatch"
	"github.com/stretchr/testify/require"
)

// Runs spawn real children and wait on the whole process group, so these
// tests must not run in parallel.

func createProject(t *testing.T, root, subpath string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(subpath))
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0644))
	}
	return dir
}

type result struct {
	stdout string
	stderr string
	stats  Stats
	err    error
}

func run(t *testing.T, root string, opts Options) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	opts.Stdout = &stdout
	opts.Stderr = &stderr
	if opts.LockDir == "" {
		opts.LockDir = t.TempDir()
	}
	stats, err := Run(context.Background(), root, opts)
	return result{stdout: stdout.String(), stderr: stderr.String(), stats: stats, err: err}
}

// recordingTable marks every directory holding "marker" by appending a line
// to a "ran" file in it.
func recordingTable() dispatch.Table {
	return dispatch.Table{
		"marker": dispatch.SpawnRule("/bin/sh", "-c", "echo x >> ran"),
	}
}

func TestRunCargoAndMakefile(t *testing.T) {
	root := t.TempDir()
	createProject(t, root, ".", "Cargo.toml")
	createProject(t, root, "subdir", "Makefile")

	res := run(t, root, Options{Jobs: 4, Verbose: true})

	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Using 4 jobs")
	require.Contains(t, res.stdout, `cargo ["clean", "--manifest-path", "`+filepath.Join(root, "Cargo.toml")+`"]`)
	require.Contains(t, res.stdout, `make ["clean"]: "`+filepath.Join(root, "subdir")+`"`)
	require.Contains(t, res.stdout, "Waiting for child processes to finish")
	require.True(t, strings.HasSuffix(res.stdout, "Done\n"), "terminal line is Done: %q", res.stdout)
}

func TestRunTerseOutput(t *testing.T) {
	root := t.TempDir()
	createProject(t, root, ".", "Cargo.toml")

	res := run(t, root, Options{Jobs: 2})

	require.NoError(t, res.err)
	require.NotContains(t, res.stdout, "cargo [")
	require.Contains(t, res.stdout, "Using 2 jobs")
	require.Contains(t, res.stdout, "Done")
}

func TestRunDefaultJobs(t *testing.T) {
	res := run(t, t.TempDir(), Options{})

	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Using 768 jobs")
}

func TestRunRejectsInvalidJobs(t *testing.T) {
	res := run(t, t.TempDir(), Options{Jobs: -3})
	require.Error(t, res.err)
}

func TestRunRemovesDependencyDirectories(t *testing.T) {
	root := t.TempDir()

	web := createProject(t, root, "web_app", "package.json")
	createProject(t, root, "web_app/node_modules", "some_package.js")

	nested := createProject(t, root, "another_web/frontend", "package.json")
	createProject(t, root, "another_web/frontend/node_modules/dep", "index.js")

	createProject(t, root, "no_modules", "package.json")
	orphan := createProject(t, root, "orphan/node_modules", "file.js")

	res := run(t, root, Options{Jobs: 4})

	require.NoError(t, res.err)
	require.NoDirExists(t, filepath.Join(web, "node_modules"))
	require.NoDirExists(t, filepath.Join(nested, "node_modules"))
	require.DirExists(t, orphan, "node_modules without a package.json stays")
	require.Contains(t, res.stdout, `rm -rf "`+filepath.Join(web, "node_modules")+`"`)
	require.Equal(t, int64(2), res.stats.Removed)
	require.Empty(t, res.stderr)
}

func TestRunKeepsSymlinkedDependencyDirectory(t *testing.T) {
	root := t.TempDir()
	target := createProject(t, root, "real_modules", "keep.js")
	project := createProject(t, root, "symlink_project", "package.json")
	link := filepath.Join(project, "node_modules")
	require.NoError(t, os.Symlink(target, link))

	res := run(t, root, Options{Jobs: 4})

	require.NoError(t, res.err)
	info, err := os.Lstat(link)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeSymlink, "link must still be a symlink")
	require.FileExists(t, filepath.Join(target, "keep.js"))
	require.NotContains(t, res.stdout, "rm -rf")
}

func TestRunEachMarkerExactlyOnce(t *testing.T) {
	root := t.TempDir()
	want := []string{
		createProject(t, root, ".", "marker"),
		createProject(t, root, "a/b/c/d/e/f", "marker"),
		createProject(t, root, "multi", "marker", "other"),
		createProject(t, root, "x", "marker"),
		createProject(t, root, "x/y", "marker"),
	}
	skipped := []string{
		createProject(t, root, ".hidden", "marker"),
		createProject(t, root, "ignored_path/node_modules/nested", "marker"),
		createProject(t, root, "node_modules", "marker"),
	}

	res := run(t, root, Options{Jobs: 2, Table: recordingTable(), Verbose: true})
	require.NoError(t, res.err)
	require.Empty(t, res.stderr)

	for _, dir := range want {
		data, err := os.ReadFile(filepath.Join(dir, "ran"))
		require.NoError(t, err, "marker in %s was not handled", dir)
		require.Equal(t, "x\n", string(data), "marker in %s handled more than once", dir)
	}
	for _, dir := range skipped {
		require.NoFileExists(t, filepath.Join(dir, "ran"))
	}
	require.NotContains(t, res.stdout, ".hidden")
	require.Equal(t, int64(len(want)), res.stats.Pool.Spawned)
	require.Equal(t, int64(len(want)), res.stats.Pool.Succeeded)
}

func TestRunSuppressesBenignFailures(t *testing.T) {
	root := t.TempDir()
	benign := createProject(t, root, "benign", "benign.mk")
	broken := createProject(t, root, "broken", "broken.mk")

	table := dispatch.Table{
		"benign.mk": dispatch.SpawnRule("/bin/sh", "-c", "echo \"make: *** No rule to make target 'clean'.  Stop.\" >&2; exit 2"),
		"broken.mk": dispatch.SpawnRule("/bin/sh", "-c", "echo nope >&2; exit 1"),
	}

	res := run(t, root, Options{Jobs: 4, Table: table})

	require.NoError(t, res.err)
	require.NotContains(t, res.stderr, benign)
	require.Equal(t, 1, strings.Count(res.stderr, "\n"), "exactly one error line: %q", res.stderr)
	require.Equal(t, `Error in: "`+broken+`" => exit status: 1, stderr: nope`+"\n", res.stderr)
	require.Equal(t, int64(1), res.stats.Pool.Suppressed)
	require.Equal(t, int64(1), res.stats.Pool.Failed)
}

func TestRunCustomSuppressRules(t *testing.T) {
	root := t.TempDir()
	createProject(t, root, ".", "marker")
	table := dispatch.Table{
		"marker": dispatch.SpawnRule("/bin/sh", "-c", "echo 'No rule to make target' >&2; exit 2"),
	}

	res := run(t, root, Options{Jobs: 1, Table: table, Suppress: []string{}})

	require.NoError(t, res.err)
	require.Contains(t, res.stderr, "No rule to make target", "an empty rule set hides nothing")
}

func TestRunSpawnFailureIsReported(t *testing.T) {
	root := t.TempDir()
	dir := createProject(t, root, "proj", "marker")
	table := dispatch.Table{
		"marker": dispatch.SpawnRule("codeclean-no-such-program", "clean"),
	}

	res := run(t, root, Options{Jobs: 2, Table: table})

	require.NoError(t, res.err, "spawn failures are not fatal")
	require.Contains(t, res.stderr, `Error in: "`+filepath.Join(dir, "marker")+`" => spawn codeclean-no-such-program`)
	require.Equal(t, int64(1), res.stats.SpawnErrors)
	require.Contains(t, res.stdout, "Done")
}

func TestRunRootFailure(t *testing.T) {
	res := run(t, filepath.Join(t.TempDir(), "missing"), Options{Jobs: 2})

	require.Error(t, res.err)
	require.NotContains(t, res.stdout, "Done")
}

func TestRunRootIsAFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0644))

	res := run(t, root, Options{Jobs: 2})

	require.Error(t, res.err)
	require.Contains(t, res.err.Error(), "read root")
	require.NotContains(t, res.stdout, "Done")
	require.Empty(t, res.stderr, "the root failure is returned, not reported as an entry error")
}

func TestRunCustomIgnoreKeepsDependencyDir(t *testing.T) {
	root := t.TempDir()
	kept := createProject(t, root, "app", "marker")
	skipped := []string{
		createProject(t, root, "app/target", "marker"),
		createProject(t, root, "app/node_modules/dep", "marker"),
	}

	res := run(t, root, Options{Jobs: 2, Table: recordingTable(), Ignore: []string{"target"}})

	require.NoError(t, res.err)
	require.FileExists(t, filepath.Join(kept, "ran"))
	for _, dir := range skipped {
		require.NoFileExists(t, filepath.Join(dir, "ran"))
	}
}

func TestRunLockedRoot(t *testing.T) {
	root := t.TempDir()
	lockDir := t.TempDir()

	held, err := acquireLock(lockDir, root)
	require.NoError(t, err)
	defer held.release()

	createProject(t, root, ".", "marker")

	res := run(t, root, Options{Jobs: 2, LockDir: lockDir, Table: recordingTable()})

	require.NoError(t, res.err, "a held lock is reported, not fatal")
	require.Contains(t, res.stderr, "OS error => another run is already cleaning this tree")
	require.Equal(t, 1, strings.Count(res.stderr, "\n"), "exactly one error line: %q", res.stderr)
	require.FileExists(t, filepath.Join(root, "ran"), "the run still cleans")
	require.True(t, strings.HasSuffix(res.stdout, "Done\n"))
}

func TestRunCanceledContextStillDrains(t *testing.T) {
	root := t.TempDir()
	createProject(t, root, ".", "marker")
	createProject(t, root, "sub", "marker")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	stats, err := Run(ctx, root, Options{
		Jobs:    2,
		Table:   recordingTable(),
		Stdout:  &stdout,
		Stderr:  &stderr,
		LockDir: t.TempDir(),
	})

	require.NoError(t, err)
	require.True(t, stats.Interrupted)
	require.FileExists(t, filepath.Join(root, "ran"), "entries of the root are handled before the first check")
	require.NoFileExists(t, filepath.Join(root, "sub", "ran"))
	require.Equal(t, stats.Pool.Spawned, stats.Pool.Succeeded, "every started child was reaped")
	require.Contains(t, stdout.String(), "Done")
}
