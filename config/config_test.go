package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
rave_name:
  default: [apc]
  matador: [matador, apc]
rave_static_library: $CARMSYS/lib/librave.a
lines_of_crc_compile: 10
queue_system: sge
queue_name: rave.q
allow_invalid_rulesets: false
build_targets:
  /src/b: [all]
  /src/a: [install]
lost_job_grace_ms: 2000
`

func TestParseOverlaysDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse([]byte(sampleConfig), &cfg))

	assert.Equal(t, 10, cfg.LinesOfCrcCompile)
	assert.Equal(t, DefaultMaxWidthTextDifference, cfg.MaxWidthTextDifference)
	assert.Equal(t, "sge", cfg.QueueSystem)
	assert.False(t, cfg.AllowInvalidRulesets)
	assert.Equal(t, 2*time.Second, cfg.LostJobGrace())
	assert.Equal(t, DefaultLostJobPollInterval, cfg.LostJobPollInterval())
	assert.Equal(t, time.Duration(0), cfg.WallclockLimit())
	assert.Equal(t, []string{"/src/a", "/src/b"}, cfg.BuildDirectories())
}

func TestRaveNames(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse([]byte(sampleConfig), &cfg))

	assert.Equal(t, []string{"matador", "apc"}, cfg.RaveNames("matador"))
	assert.Equal(t, []string{"apc"}, cfg.RaveNames("studio"))
	assert.Equal(t, []string{"apc"}, cfg.RaveNames(""))
	assert.Equal(t, "apc", cfg.BasicRaveName())

	cfg.RaveName[DefaultRaveNameKey] = []string{"ccp", "apc"}
	assert.Equal(t, "ccp", cfg.BasicRaveName())
	d := Default()
	assert.Equal(t, "", d.BasicRaveName())
}

func TestValidateRejectsBadPreviewBudget(t *testing.T) {
	cfg := Default()
	assert.Error(t, Parse([]byte("lines_of_crc_compile: 0"), &cfg))

	cfg = Default()
	assert.Error(t, Parse([]byte("preview_start_end_ratio: 1.5"), &cfg))
}

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(dir, "rulecomp.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(sampleConfig), 0644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rave.q", cfg.QueueName)

	require.NoError(t, ioutil.WriteFile(path, []byte("rave_name: [oops"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}
