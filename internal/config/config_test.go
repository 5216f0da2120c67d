// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers YAML parsing, environment overrides and aggregated validation errors

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/prateek/heapgrok/space"
	"github.com/prateek/heapgrok/walker"
)

const sampleConfig = `
catalog: v8heapconst.py
image:
  path: heap.img
page_size: 0x40000
smi_shift: 1
walk:
  max_depth: 4
  workers: 2
  policy: abort
  skip: [map]
ranges:
  - base: 0xc0000
    size: 0x80000
    space: old_space
log:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heapgrok.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "v8heapconst.py", cfg.Catalog)
	assert.Equal(t, "heap.img", cfg.Image.Path)
	assert.Equal(t, uint64(0x40000), cfg.PageSize)
	assert.Equal(t, uint(1), cfg.SmiShift)
	assert.Equal(t, Walk{MaxDepth: 4, Workers: 2, Policy: "abort", Skip: []string{"map"}}, cfg.Walk)
	assert.Equal(t, []Range{{Base: 0xc0000, Size: 0x80000, Space: "old_space"}}, cfg.Ranges)
	assert.Equal(t, "debug", cfg.Log.Level)

	// unset values keep their defaults
	assert.Equal(t, Default().MaxElements, cfg.MaxElements)
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "walk: [1, 2"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEAPGROK_CATALOG", "other.yaml")
	t.Setenv("HEAPGROK_IMAGE", "other.img")
	t.Setenv("HEAPGROK_PAGE_SIZE", "0x80000")
	t.Setenv("HEAPGROK_MAX_DEPTH", "0")
	t.Setenv("HEAPGROK_POLICY", "continue")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "other.yaml", cfg.Catalog)
	assert.Equal(t, "other.img", cfg.Image.Path)
	assert.Equal(t, uint64(0x80000), cfg.PageSize)
	assert.Equal(t, 0, cfg.Walk.MaxDepth)
	assert.Equal(t, "continue", cfg.Walk.Policy)
}

func TestEnvOverrideErrors(t *testing.T) {
	t.Setenv("HEAPGROK_PAGE_SIZE", "big")
	t.Setenv("HEAPGROK_WORKERS", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.PageSize = 3000
	cfg.SmiShift = 5
	cfg.MaxElements = 0
	cfg.Walk.Workers = -1
	cfg.Walk.Policy = "retry"
	cfg.Ranges = []Range{{Base: 0x1000}}
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	// catalog, image and the seven bad values above
	assert.Len(t, multierr.Errors(err), 9)
}

func TestComponentOptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Len(t, cfg.ResolverOptions(), 2)
	assert.Len(t, cfg.DecoderOptions(4, nil), 3)

	opts, err := cfg.WalkerOptions(nil)
	require.NoError(t, err)
	assert.Len(t, opts, 5)

	cfg.Walk.Policy = "retry"
	_, err = cfg.WalkerOptions(nil)
	assert.Error(t, err)
}

func TestResolverOptionsApplyRanges(t *testing.T) {
	cfg := Default()
	cfg.Ranges = []Range{{Base: 0x200000, Size: 0x100000, Space: "large_object_space"}}

	r := space.NewResolver(nil, cfg.ResolverOptions()...)
	loc := r.Classify(0x280010)
	assert.Equal(t, space.Location{Space: "large_object_space", Offset: 0x80010, Mapped: true}, loc)
}

func TestDefaultPolicy(t *testing.T) {
	p, err := walker.ParsePolicy(Default().Walk.Policy)
	require.NoError(t, err)
	assert.Equal(t, walker.Continue, p)
}
