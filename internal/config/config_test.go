package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uploadFlags mirrors the flag set the CLI registers.
func uploadFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("endpoint", "", "")
	flags.String("access-key", "", "")
	flags.String("secret-key", "", "")
	flags.String("region", "", "")
	flags.Bool("secure", true, "")
	flags.String("bucket", "", "")
	flags.String("prefix", "", "")
	flags.String("source", "", "")
	flags.StringSlice("exclude", nil, "")
	flags.Int("concurrency", 32, "")
	flags.Int64("part-size", 67108864, "")
	flags.Int64("multipart-threshold", 67108864, "")
	flags.Int("retries", 3, "")
	flags.Int("retry-backoff-ms", 500, "")
	flags.Bool("dry-run", false, "")
	flags.String("checkpoint", "./bulkput.db", "")
	flags.Bool("skip-existing", true, "")
	flags.Bool("resume", false, "")
	flags.Bool("show-progress", true, "")
	flags.String("log-level", "info", "")
	flags.String("metrics-addr", "", "")

	require.NoError(t, flags.Parse(args))
	return flags
}

// baseArgs is the minimum argument set that passes validation.
func baseArgs(t *testing.T) []string {
	t.Helper()
	return []string{
		"--endpoint", "localhost:9000",
		"--access-key", "ak",
		"--secret-key", "sk",
		"--bucket", "backups",
		"--source", t.TempDir(),
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", uploadFlags(t, baseArgs(t)...))
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Upload.Concurrency)
	assert.Equal(t, int64(67108864), cfg.Upload.PartSize)
	assert.Equal(t, int64(67108864), cfg.Upload.MultipartThreshold)
	assert.Equal(t, 3, cfg.Upload.Retries)
	assert.Equal(t, 500, cfg.Upload.RetryBackoffMs)
	assert.Equal(t, "./bulkput.db", cfg.Upload.Checkpoint)
	assert.True(t, cfg.Upload.SkipExisting)
	assert.False(t, cfg.Upload.Resume)
	assert.True(t, cfg.Target.Secure)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromFile(t *testing.T) {
	source := t.TempDir()
	content := `
target:
  endpoint: minio.internal:9000
  access_key: file-ak
  secret_key: file-sk
  secure: true
upload:
  bucket: archive
  source_dir: ` + source + `
  concurrency: 8
  retries: 5
log_level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, uploadFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "minio.internal:9000", cfg.Target.Endpoint)
	assert.True(t, cfg.Target.Secure)
	assert.Equal(t, "archive", cfg.Upload.Bucket)
	assert.Equal(t, 8, cfg.Upload.Concurrency)
	assert.Equal(t, 5, cfg.Upload.Retries)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Values the file does not set keep their defaults.
	assert.Equal(t, int64(67108864), cfg.Upload.PartSize)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BULKPUT_ENDPOINT", "env.host:9000")
	t.Setenv("BULKPUT_ACCESS_KEY", "env-ak")
	t.Setenv("BULKPUT_SECRET_KEY", "env-sk")
	t.Setenv("BULKPUT_BUCKET", "env-bucket")
	t.Setenv("BULKPUT_SOURCE_DIR", t.TempDir())
	t.Setenv("BULKPUT_CONCURRENCY", "12")

	cfg, err := Load("", uploadFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "env.host:9000", cfg.Target.Endpoint)
	assert.Equal(t, "env-bucket", cfg.Upload.Bucket)
	assert.Equal(t, 12, cfg.Upload.Concurrency)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("BULKPUT_BUCKET", "env-bucket")
	t.Setenv("BULKPUT_CONCURRENCY", "12")

	args := append(baseArgs(t), "--concurrency", "4")
	cfg, err := Load("", uploadFlags(t, args...))
	require.NoError(t, err)

	assert.Equal(t, "backups", cfg.Upload.Bucket, "an explicit flag beats the environment")
	assert.Equal(t, 4, cfg.Upload.Concurrency)
}

func TestEnvOverridesFile(t *testing.T) {
	source := t.TempDir()
	content := `
target:
  endpoint: file.host:9000
  access_key: ak
  secret_key: sk
upload:
  bucket: file-bucket
  source_dir: ` + source + `
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("BULKPUT_ENDPOINT", "env.host:9000")

	cfg, err := Load(path, uploadFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "env.host:9000", cfg.Target.Endpoint)
	assert.Equal(t, "file-bucket", cfg.Upload.Bucket)
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("BULKPUT_CONCURRENCY", "not-a-number")

	_, err := Load("", uploadFlags(t, baseArgs(t)...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BULKPUT_CONCURRENCY")
}

func TestValidation(t *testing.T) {
	source := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name: "missing bucket",
			args: []string{
				"--endpoint", "h:9000", "--access-key", "ak", "--secret-key", "sk",
				"--source", source,
			},
			wantErr: "bucket is required",
		},
		{
			name: "missing source",
			args: []string{
				"--endpoint", "h:9000", "--access-key", "ak", "--secret-key", "sk",
				"--bucket", "b",
			},
			wantErr: "source directory is required",
		},
		{
			name: "source does not exist",
			args: []string{
				"--endpoint", "h:9000", "--access-key", "ak", "--secret-key", "sk",
				"--bucket", "b", "--source", filepath.Join(source, "nope"),
			},
			wantErr: "not accessible",
		},
		{
			name: "missing endpoint",
			args: []string{
				"--access-key", "ak", "--secret-key", "sk",
				"--bucket", "b", "--source", source,
			},
			wantErr: "endpoint is required",
		},
		{
			name: "missing credentials",
			args: []string{
				"--endpoint", "h:9000",
				"--bucket", "b", "--source", source,
			},
			wantErr: "access key is required",
		},
		{
			name: "part size below minimum",
			args: []string{
				"--endpoint", "h:9000", "--access-key", "ak", "--secret-key", "sk",
				"--bucket", "b", "--source", source, "--part-size", "1024",
			},
			wantErr: "part size",
		},
		{
			name: "zero concurrency",
			args: []string{
				"--endpoint", "h:9000", "--access-key", "ak", "--secret-key", "sk",
				"--bucket", "b", "--source", source, "--concurrency", "0",
			},
			wantErr: "concurrency",
		},
		{
			name: "negative retries",
			args: []string{
				"--endpoint", "h:9000", "--access-key", "ak", "--secret-key", "sk",
				"--bucket", "b", "--source", source, "--retries", "-1",
			},
			wantErr: "retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", uploadFlags(t, tt.args...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDryRunNeedsNoCredentials(t *testing.T) {
	cfg, err := Load("", uploadFlags(t,
		"--bucket", "b",
		"--source", t.TempDir(),
		"--dry-run",
	))
	require.NoError(t, err)
	assert.True(t, cfg.Upload.DryRun)
	assert.Empty(t, cfg.Target.Endpoint)
}
