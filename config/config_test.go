package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chriskillpack/sitrep/internal/blip"
	"github.com/chriskillpack/sitrep/internal/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("HF_TOKEN", "hf_from_env")

	cfg, err := InitConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "hf_from_env", cfg.Token)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, BackendBlip, cfg.Caption.Backend)
	assert.True(t, cfg.Caption.AutoFetch)
	assert.Equal(t, blip.DefaultBaseURL, cfg.Caption.ModelURL)
	assert.Equal(t, blip.DefaultTensorNames, cfg.Caption.Tensors)
	assert.Equal(t, openai.DefaultModel, cfg.Report.Model)
	assert.Equal(t, openai.DefaultBaseURL, cfg.Report.BaseURL)
	assert.InDelta(t, 0.7, cfg.Report.Temperature, 1e-9)
	assert.Zero(t, cfg.Report.Timeout)
}

func TestFile(t *testing.T) {
	t.Setenv("HF_TOKEN", "")

	path := filepath.Join(t.TempDir(), "sitrep.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "9090"

[log]
level = "debug"

[caption]
backend = "llama"
llama_server = "http://gpu-box:8080"

[report]
model = "meta-llama/Llama-3.3-70B-Instruct"
temperature = 0.2
timeout = "45s"
`), 0644))

	cfg, err := InitConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendLlama, cfg.Caption.Backend)
	assert.Equal(t, "http://gpu-box:8080", cfg.Caption.LlamaServer)
	assert.Equal(t, "meta-llama/Llama-3.3-70B-Instruct", cfg.Report.Model)
	assert.InDelta(t, 0.2, cfg.Report.Temperature, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.Report.Timeout)
	assert.Empty(t, cfg.Token)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SITREP_CAPTION_BACKEND", "hfinference")

	cfg, err := InitConfig("")
	require.NoError(t, err)
	assert.Equal(t, BackendHFInference, cfg.Caption.Backend)
}

func TestInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[caption]\nbackend = \"tesseract\"\n"), 0644))
	_, err := InitConfig(bad)
	assert.ErrorContains(t, err, "unknown caption backend")

	hot := filepath.Join(dir, "hot.toml")
	require.NoError(t, os.WriteFile(hot, []byte("[report]\ntemperature = 3.5\n"), 0644))
	_, err = InitConfig(hot)
	assert.ErrorContains(t, err, "temperature")

	broken := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte("[report\n"), 0644))
	_, err = InitConfig(broken)
	assert.Error(t, err)
}
