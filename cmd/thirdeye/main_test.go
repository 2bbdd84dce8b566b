package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rulesFile = ""
		configPath = ""
		seedDryRun = false
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "thirdeye version dev")
}

func TestSeedRulesDryRun(t *testing.T) {
	out, err := execute(t, "seed-rules", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "mva-section-5\tred_light\t1000\tViolation of traffic signals")
	assert.Contains(t, out, "mva-regulation-212")
}

func TestSeedRulesDryRunFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - {rule_id: local-1, title: Local rule, text: x, category: other, fine_amount: 50}\n"), 0o600))

	out, err := execute(t, "seed-rules", "--dry-run", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "local-1\tother\t50\tLocal rule")
	assert.NotContains(t, out, "mva-section-5")
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db:\n  dsn: postgres://x\n"), 0o600))
	t.Setenv("THIRDEYE_GEMINI_API_KEY", "")

	_, err := execute(t, "serve", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.api_key is required")
}
