package cgigen

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWritesExecutableScript(t *testing.T) {
	dir := t.TempDir()
	path, err := Generate(dir, Params{StatusFile: "/var/run/apinger.status", Location: "/apinger"})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "script should be executable")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "/var/run/apinger.status"))
}
