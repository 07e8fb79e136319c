package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penaltyvision/overlay-server/internal/session"
	"github.com/penaltyvision/overlay-server/internal/viewer"
)

const samplePostures = `[
 {"frame":0,"nose_x":40,"nose_y":30,"nose_confidence":0.9},
 {"frame":42,"nose_x":100,"nose_y":50,"nose_confidence":0.9,"left_shoulder_x":80,"left_shoulder_y":70,"left_shoulder_confidence":0.8,"right_shoulder_x":120,"right_shoulder_y":70,"right_shoulder_confidence":0.8,"left_hip_x":85,"left_hip_y":90,"left_hip_confidence":0.1}
]`

func writePostures(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postures.json")
	require.NoError(t, os.WriteFile(path, []byte(samplePostures), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRenderWritesPNG(t *testing.T) {
	postures := writePostures(t)
	out := filepath.Join(t.TempDir(), "frame.png")

	stdout, err := runCLI(t, "render", "--postures", postures, "--time", "1.41", "--width", "200", "--height", "100", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Frame 42 (matched): 3 keypoints, 1 bones")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestRenderReportsUnmatchedFrame(t *testing.T) {
	postures := writePostures(t)
	out := filepath.Join(t.TempDir(), "frame.png")

	stdout, err := runCLI(t, "render", "--postures", postures, "--time", "0.5", "--width", "64", "--height", "64", "--out", out, "--caption")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Frame 15 (no posture frame)")
	assert.FileExists(t, out)
}

func TestRenderRejectsInvalidInput(t *testing.T) {
	postures := writePostures(t)

	_, err := runCLI(t, "render", "--postures", postures, "--width", "0")
	assert.Error(t, err)

	_, err = runCLI(t, "render", "--postures", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = runCLI(t, "render")
	assert.Error(t, err, "postures flag is required")
}

func TestInspectPrintsTables(t *testing.T) {
	postures := writePostures(t)

	stdout, err := runCLI(t, "inspect", "--postures", postures, "--frames")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Mean drawable keypoints")
	assert.Contains(t, stdout, "1.43s")
	assert.Contains(t, stdout, "nose, left_shoulder, right_shoulder")
	assert.Contains(t, stdout, "3/4")
}

func newTestFlags(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	registerServeFlags(fs, v)
	require.NoError(t, fs.Parse(args))
	return v
}

func TestServeConfigPrecedence(t *testing.T) {
	t.Setenv("PENALTYVISION_MAX_SESSIONS", "3")
	t.Setenv("PENALTYVISION_ADDR", ":7000")
	v := newTestFlags(t, "--addr", ":9999", "--cache-ttl", "2m")

	cfg, err := loadServeConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr, "flags override env")
	assert.Equal(t, 3, cfg.MaxSessions)
	assert.Equal(t, "2m0s", cfg.CacheTTL.String())
	assert.Equal(t, viewer.DefaultConfig().JPEGQuality, cfg.JPEGQuality)
}

func TestServeConfigValidation(t *testing.T) {
	t.Setenv("PENALTYVISION_JPEG_QUALITY", "0")
	v := newTestFlags(t, "--backend-url", "not a url")

	_, err := loadServeConfig(v)
	var verr *viewer.ValidationErrors
	require.True(t, errors.As(err, &verr), "err = %v", err)
	fields := map[string]bool{}
	for _, fe := range verr.Errors {
		fields[fe.Field] = true
	}
	assert.True(t, fields["jpeg_quality"])
	assert.True(t, fields["backend_url"])
}

func TestNewPostureCache(t *testing.T) {
	cfg := viewer.DefaultConfig()
	cache, closeFn, err := newPostureCache(context.Background(), cfg)
	require.NoError(t, err)
	closeFn()
	assert.IsType(t, &session.MemoryCache{}, cache)

	s := miniredis.RunT(t)
	cfg.RedisAddr = s.Addr()
	cache, closeFn, err = newPostureCache(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &session.RedisCache{}, cache)

	s.Close()
	cfg.RedisAddr = "127.0.0.1:1"
	_, _, err = newPostureCache(context.Background(), cfg)
	assert.Error(t, err)
}

func TestShouldColorizeNonTerminal(t *testing.T) {
	assert.False(t, shouldColorize(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, shouldColorize(f))
}
