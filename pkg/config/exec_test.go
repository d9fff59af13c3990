package config_test

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/labsbykora/audit-table-archiver/pkg/config"
)

func setenv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func TestExecAppliesEnvironmentOverrides(t *testing.T) {
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}

	var cfg struct {
		X int `default:"0"`
	}
	config.BindCmd(cmd, &cfg)
	y := cmd.Flags().Int("y", 0, "y flag (command)")

	setenv(t, "ARCHIVER_X", "1")
	setenv(t, "ARCHIVER_Y", "2")

	require.NoError(t, config.Exec(cmd))

	require.Equal(t, 1, cfg.X)
	require.Equal(t, 2, *y)
}

func TestSaveConfigOmitsHiddenFields(t *testing.T) {
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}

	var cfg struct {
		W int `default:"0" hidden:"false"`
		X int `default:"0" hidden:"true"`
		Y int `releaseDefault:"1" devDefault:"0" hidden:"true"`
		Z int `default:"1"`
	}
	config.BindCmd(cmd, &cfg)

	require.NoError(t, config.Exec(cmd))

	dir := t.TempDir()
	path := dir + "/testconfig.yaml"
	require.NoError(t, config.SaveConfig(cmd, path))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Contains(t, string(contents), "# w: 0")
	require.Contains(t, string(contents), "# z: 1")
	require.NotContains(t, string(contents), "# y: ")
	require.NotContains(t, string(contents), "# x: ")
}
