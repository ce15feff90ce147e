package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/bbdrain/engine"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, engine.DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, 1, cfg.Verbose)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.Journal)
}

func TestLoad_NoFlags(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := Load("", newFlags(t,
		"--source", "/bb/run1",
		"--dest", "/pfs/run1",
		"--buffer-size", "4MiB",
		"-v", "2",
		"--rank", "5",
		"--log-format", "JSON",
	))
	require.NoError(t, err)

	assert.Equal(t, "/bb/run1", cfg.Source)
	assert.Equal(t, "/pfs/run1", cfg.Dest)
	assert.Equal(t, 4<<20, cfg.BufferSize)
	assert.Equal(t, 2, cfg.Verbose)
	assert.Equal(t, 5, cfg.Rank)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bbdrain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"source: /bb/from-file\n"+
			"dest: s3://bucket/prefix\n"+
			"buffer-size: 64KiB\n"+
			"journal: /tmp/journal.db\n",
	), 0o644))

	t.Setenv("BBDRAIN_BUFFER_SIZE", "128KiB")
	t.Setenv("BBDRAIN_RANK", "9")

	cfg, err := Load(path, newFlags(t, "--dest", "/pfs/flag"))
	require.NoError(t, err)

	assert.Equal(t, "/bb/from-file", cfg.Source)
	assert.Equal(t, "/pfs/flag", cfg.Dest, "flags win over the file")
	assert.Equal(t, 128<<10, cfg.BufferSize, "environment wins over the file")
	assert.Equal(t, 9, cfg.Rank)
	assert.Equal(t, "/tmp/journal.db", cfg.Journal)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), newFlags(t))
	assert.NoError(t, err)
}

func TestLoad_BadBufferSize(t *testing.T) {
	_, err := Load("", newFlags(t, "--buffer-size", "lots"))
	assert.Error(t, err)

	_, err = Load("", newFlags(t, "--buffer-size", "0"))
	assert.ErrorIs(t, err, engine.ErrInvalidBufferSize)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrMissingSource)

	cfg.Source = "/bb"
	assert.ErrorIs(t, cfg.Validate(), ErrMissingDest)

	cfg.Dest = "/pfs"
	assert.NoError(t, cfg.Validate())

	cfg.LogFormat = "xml"
	assert.Error(t, cfg.Validate())
}

func TestS3Target(t *testing.T) {
	tests := []struct {
		dest       string
		wantBucket string
		wantPrefix string
		wantOK     bool
	}{
		{"s3://bucket/some/prefix/", "bucket", "some/prefix", true},
		{"s3://bucket", "bucket", "", true},
		{"s3://", "", "", false},
		{"/pfs/run1", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			bucket, prefix, ok := (&Config{Dest: tt.dest}).S3Target()
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPrefix, prefix)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
