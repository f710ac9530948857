package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTimeRuleCommand(t *testing.T) {
	t.Setenv("CLASSCHED_TIMEZONE", "America/New_York")

	out, err := run(t, "timerule", "--date", "2024-03-01", "--time", "10:00 AM", "--days", "7", "--hours", "22", "--minutes", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03-01T15:00:00Z")
	assert.Contains(t, out, "2024-02-22T16:59:00Z")
	assert.Contains(t, out, "7d22h1m")

	_, err = run(t, "timerule", "--date", "2024-03-01", "--time", "noonish")
	assert.Error(t, err)
}

func TestKeysCommand(t *testing.T) {
	out, err := run(t, "keys")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "export CLASSCHED_CRED_ENC_KEY="))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "classched dev (commit=none, built=unknown)\n", out)
}

func TestJobListAgainstMemoryStore(t *testing.T) {
	t.Setenv("CLASSCHED_STORE_DRIVER", "memory")
	out, err := run(t, "job", "list", "--user-id", "u1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestJobStatusNeedsTarget(t *testing.T) {
	t.Setenv("CLASSCHED_STORE_DRIVER", "memory")
	_, err := run(t, "job", "status")
	assert.Error(t, err)

	out, err := run(t, "job", "status", "--job-id", "class-bot-u1-s1")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "not_found"`)
}
