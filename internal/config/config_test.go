package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 12, cfg.EditBudget)
	assert.Equal(t, 20*time.Second, cfg.EditCooldown)
	assert.Equal(t, 8*time.Second, cfg.TokenTTL)
	assert.Equal(t, time.Minute, cfg.StaleLockThreshold)
	assert.False(t, cfg.SharedBudget())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EDIT_BUDGET", "30")
	t.Setenv("EDIT_BUDGET_SCOPE", "Shared")
	t.Setenv("DISPATCH_INTERVAL", "250ms")
	t.Setenv("ARTIFACT_S3_PATH_STYLE", "true")
	t.Setenv("MAXLAG", "not-a-number")

	cfg := Load()
	assert.Equal(t, 30, cfg.EditBudget)
	assert.True(t, cfg.SharedBudget())
	assert.Equal(t, 250*time.Millisecond, cfg.DispatchInterval)
	assert.True(t, cfg.ArtifactS3PathStyle)
	assert.Equal(t, 5, cfg.Maxlag, "unparseable values fall back to the default")
}

func TestCredentialFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("s3cret\n"), 0o600))

	cred, err := Config{BotCredentialFile: path}.Credential()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cred)

	cred, err = Config{BotCredential: "inline", BotCredentialFile: path}.Credential()
	require.NoError(t, err)
	assert.Equal(t, "inline", cred)

	_, err = Config{BotCredentialFile: filepath.Join(t.TempDir(), "missing")}.Credential()
	assert.Error(t, err)
}
