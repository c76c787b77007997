package debug

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runSetup(t *testing.T, args ...string) {
	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			if err := Setup(ctx); err != nil {
				return err
			}
			log.Info("Logging configured", "component", "test")
			log.Debug("Hidden at info level")
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	Exit()
}

func TestSetupJSONFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "hostevm.log")
	runSetup(t, "--log.file", file, "--log.json", "--verbosity", "3")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Logging configured", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}

func TestSetupTrace(t *testing.T) {
	file := filepath.Join(t.TempDir(), "trace.out")
	runSetup(t, "--trace", file, "--verbosity", "0")

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
	assert.Error(t, Handler.StopGoTrace(), "trace stopped by Exit")
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/logs", expandHome("~/logs"))
	assert.Equal(t, "/var/log", expandHome("/var/log/"))
}
