package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := Build()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artemia.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const sample = `
power:
  source: fixed
  fixed_volts: 3.3
storage:
  driver: file
  path: %s
tasks:
  - name: sample
    schedule: "0 30 * * * *"
    minimum_voltage: 2.2
    max_lateness: 10m
    action:
      kind: log
      message: sampling
`

func sampleConfig(t *testing.T) string {
	return writeConfig(t, strings.Replace(sample, "%s", filepath.Join(t.TempDir(), "hist"), 1))
}

func TestPreview(t *testing.T) {
	out, err := execute(t, "preview", "0 30 * * * *", "--from", "2024-06-01T00:00:00Z", "-n", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"schedule: 0 30 * * * *",
		"2024-06-01T00:30:00Z",
		"2024-06-01T01:30:00Z",
	}, lines)
}

func TestPreviewRejectsSteps(t *testing.T) {
	_, err := execute(t, "preview", "0 */5 * * * *")
	assert.Error(t, err)

	_, err = execute(t, "preview", "@hourly", "--count", "0")
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	out, err := execute(t, "check", "--config", sampleConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "sample")
	assert.Contains(t, out, "10m0s")
	assert.Contains(t, out, "config ok: 1 task(s)")

	bad := writeConfig(t, "tasks:\n  - name: x\n    schedule: \"*/15 * * * * *\"\n")
	_, err = execute(t, "check", "-c", bad)
	assert.Error(t, err)
}

func TestNextAndHistory(t *testing.T) {
	path := sampleConfig(t)

	out, err := execute(t, "next", "-c", path, "--at", "2024-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "heartbeat")
	assert.Contains(t, out, "sample")
	assert.Contains(t, out, "next wake:")
	// Never-run tasks with a lateness window wait for an occurrence inside it.
	assert.Contains(t, out, "2024-06-01T00:30:00Z")

	out, err = execute(t, "history", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "never")
}

func TestRelative(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "now", relative(now, now))
	assert.Equal(t, "5 minutes from now", relative(now.Add(5*time.Minute), now))
	assert.Equal(t, "1 hour ago", relative(now.Add(-time.Hour), now))
}
