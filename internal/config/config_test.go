package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(lookupMap(nil))
	require.NoError(t, err)

	require.Equal(t, "pi-receiver", cfg.ServiceName)
	require.Equal(t, ":5001", cfg.HTTPAddr)
	require.Equal(t, 50, cfg.HistorySize)
	require.Equal(t, BackendFile, cfg.BlobBackend)
	require.Equal(t, 5*time.Second, cfg.BlobSaveTimeout)
	require.Equal(t, 256, cfg.WSSendBuffer)
	require.NotEmpty(t, cfg.InstanceID)
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := LoadFrom(lookupMap(map[string]string{
		"HTTP_ADDR":         ":9000",
		"HISTORY_SIZE":      "10",
		"BLOB_SAVE_TIMEOUT": "250ms",
		"LOG_PRETTY":        "true",
		"LOG_SAMPLE_N":      "100",
	}))
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, 10, cfg.HistorySize)
	require.Equal(t, 250*time.Millisecond, cfg.BlobSaveTimeout)
	require.True(t, cfg.LogPretty)
	require.Equal(t, uint32(100), cfg.LogSampleN)
}

func TestLoadInvalidValues(t *testing.T) {
	_, err := LoadFrom(lookupMap(map[string]string{
		"HISTORY_SIZE":      "many",
		"BLOB_SAVE_TIMEOUT": "soon",
	}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "HISTORY_SIZE")
	require.Contains(t, err.Error(), "BLOB_SAVE_TIMEOUT")
}

func TestLoadS3RequiresBucket(t *testing.T) {
	_, err := LoadFrom(lookupMap(map[string]string{
		"BLOB_BACKEND": "s3",
		"AWS_REGION":   "ap-northeast-2",
	}))
	require.ErrorContains(t, err, "S3_BUCKET")

	cfg, err := LoadFrom(lookupMap(map[string]string{
		"BLOB_BACKEND": "S3",
		"AWS_REGION":   "ap-northeast-2",
		"S3_BUCKET":    "solar-captures",
		"S3_PREFIX":    "/pi/",
	}))
	require.NoError(t, err)
	require.Equal(t, BackendS3, cfg.BlobBackend)
	require.Equal(t, "pi", cfg.S3Prefix)
}

func TestLoadConfigFileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receiver.yml")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR: \":7000\"\nhistory_size: 20\nLOG_PRETTY: true\n"), 0o600))

	cfg, err := LoadFrom(lookupMap(map[string]string{
		"CONFIG_FILE": path,
		"HTTP_ADDR":   ":7100",
	}))
	require.NoError(t, err)

	require.Equal(t, ":7100", cfg.HTTPAddr)
	require.Equal(t, 20, cfg.HistorySize)
	require.True(t, cfg.LogPretty)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := LoadFrom(lookupMap(map[string]string{
		"CONFIG_FILE": filepath.Join(t.TempDir(), "missing.yml"),
	}))
	require.ErrorContains(t, err, "read config file")
}

func TestValidateSendBufferCoversHistory(t *testing.T) {
	_, err := LoadFrom(lookupMap(map[string]string{
		"HISTORY_SIZE":   "100",
		"WS_SEND_BUFFER": "64",
	}))
	require.ErrorContains(t, err, "WS_SEND_BUFFER")
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receiver.env")
	require.NoError(t, os.WriteFile(path, []byte("PI_RECEIVER_DOTENV_PROBE=from-file\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() { _ = os.Unsetenv("PI_RECEIVER_DOTENV_PROBE") })

	require.NoError(t, loadDotEnv())
	require.Equal(t, "from-file", os.Getenv("PI_RECEIVER_DOTENV_PROBE"))

	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, loadDotEnv())
}
