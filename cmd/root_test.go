package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestJobsFlag(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, "-j", "42", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Using 42 jobs")

	out, _, err = execute(t, "--jobs", "100", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Using 100 jobs")
}

func TestDefaults(t *testing.T) {
	t.Setenv("LOG", "")
	out, stderr, err := execute(t, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "Using 768 jobs\nWaiting for child processes to finish\nDone\n", out)
	assert.Empty(t, stderr)
}

func TestRejectsInvalidJobs(t *testing.T) {
	for _, jobs := range []string{"0", "-4"} {
		_, _, err := execute(t, "-j", jobs, t.TempDir())
		assert.Error(t, err, "jobs %s", jobs)
	}

	_, _, err := execute(t, "-j", "many", t.TempDir())
	assert.Error(t, err)
}

func TestRejectsBadLogLevel(t *testing.T) {
	_, _, err := execute(t, "--log-level", "chatty", t.TempDir())
	assert.Error(t, err)
}

func TestRejectsExtraArguments(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), t.TempDir())
	assert.Error(t, err)
}

func TestMissingRoot(t *testing.T) {
	_, _, err := execute(t, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestJobsFromEnvironment(t *testing.T) {
	t.Setenv("CODECLEAN_JOBS", "7")
	out, _, err := execute(t, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "Using 7 jobs")
}

func TestJobsFromConfigFile(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "codeclean.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("jobs: 9\n"), 0644))

	out, _, err := execute(t, "--config", cfg, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "Using 9 jobs")
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), t.TempDir())
	assert.Error(t, err)
}

func TestVerboseEnabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{" True ", true},
		{"0", false},
		{"false", false},
		{"yes", false},
		{"2", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, verboseEnabled(tt.value), "LOG=%q", tt.value)
	}
}
