package filter

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/rulecomp/config"
	"github.com/twitter/rulecomp/registry"
	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

type fixture struct {
	root string
	cfg  config.Config
	reg  *registry.Registry
}

func newFixture(t *testing.T) (*fixture, func()) {
	root, err := ioutil.TempDir("", "filter_test")
	require.NoError(t, err)
	cfg := config.Default()
	cfg.RaveName = map[string][]string{config.DefaultRaveNameKey: {"apc"}}
	cfg.RaveStaticLibrary = "$CARMSYS/lib/librave.a"
	return &fixture{root: root, cfg: cfg, reg: registry.New(nil)}, func() { os.RemoveAll(root) }
}

func (f *fixture) test(path string, carmTmp string, rulesets ...string) *testmodel.SuiteTest {
	return testmodel.NewSuiteTest(
		testmodel.SuiteSpec{
			App:     "apc",
			Version: "12",
			Environment: map[string]string{
				"CARMSYS": filepath.Join(f.root, "sys"),
				"CARMUSR": filepath.Join(f.root, "usr"),
				"CARMTMP": filepath.Join(f.root, carmTmp),
			},
		},
		testmodel.TestSpec{Path: path, UserSuite: "userA", Rulesets: rulesets},
		testmodel.Defaults{Architecture: "x86_64_linux"})
}

func (f *fixture) filterer(opts Options) *Filterer {
	return NewFilterer(f.reg, &f.cfg, opts, nil)
}

func touch(t *testing.T, path string, mtime time.Time) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func (f *fixture) source(t *testing.T, name string) {
	touch(t, filepath.Join(f.root, "usr", "crc", "source", name), time.Now())
}

func (f *fixture) target(t *testing.T, carmTmp, name string, mtime time.Time) {
	touch(t, filepath.Join(f.root, carmTmp, "crc", "rule_set", "APC", "x86_64_linux", name), mtime)
}

func (f *fixture) library(t *testing.T, name string, mtime time.Time) {
	touch(t, filepath.Join(f.root, "sys", "lib", name), mtime)
}

func TestOwnedAndShared(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	f.source(t, "R")
	filterer := f.filterer(Options{})

	t1, t2 := f.test("t1", "tmp", "R"), f.test("t2", "tmp", "R")
	p1, err := filterer.Filter(t1)
	require.NoError(t, err)
	p2, err := filterer.Filter(t2)
	require.NoError(t, err)

	require.Len(t, p1.Owned, 1)
	assert.Empty(t, p1.Shared)
	assert.Empty(t, p2.Owned)
	require.Len(t, p2.Shared, 1)
	assert.True(t, p1.Owned[0] == p2.Shared[0], "waiter must share the owner's descriptor")
	assert.Equal(t, testmodel.NEED_RULECOMPILE, t1.State().Category())
	assert.Equal(t, testmodel.NEED_RULECOMPILE, t2.State().Category())

	dir, err := os.Stat(filepath.Join(f.root, "tmp"))
	require.NoError(t, err)
	assert.True(t, dir.IsDir(), "CARMTMP is created")
}

func TestRefilterGivesSamePlan(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	f.source(t, "R")
	filterer := f.filterer(Options{})

	t1 := f.test("t1", "tmp", "R")
	first, err := filterer.Filter(t1)
	require.NoError(t, err)
	second, err := filterer.Filter(t1)
	require.NoError(t, err)
	assert.Equal(t, first.Names(), second.Names())
	assert.Len(t, second.Owned, 1)
	assert.True(t, first.Owned[0] == second.Owned[0])
}

func TestUpToDateRulesetNotCompiled(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	f.source(t, "R")
	now := time.Now()
	f.target(t, "tmp", "R", now)
	f.library(t, "librave.a", now.Add(-time.Hour))

	t1 := f.test("t1", "tmp", "R")
	plan, err := f.filterer(Options{}).Filter(t1)
	require.NoError(t, err)
	assert.Nil(t, plan)
	assert.Equal(t, testmodel.NONE, t1.State().Category())
	assert.Equal(t, 0, f.reg.Len())
}

func TestNewerLibraryForcesCompile(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	f.source(t, "R")
	now := time.Now()
	f.target(t, "tmp", "R", now.Add(-time.Hour))
	f.library(t, "librave.a", now)

	plan, err := f.filterer(Options{}).Filter(f.test("t1", "tmp", "R"))
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, []string{"R"}, plan.Names())
}

func TestMissingLibraryMeansDynamicLinkage(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	f.source(t, "R")
	f.target(t, "tmp", "R", time.Now().Add(-time.Hour))

	plan, err := f.filterer(Options{}).Filter(f.test("t1", "tmp", "R"))
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestDebugModeUsesDebugLibrary(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	f.source(t, "R")
	now := time.Now()
	f.target(t, "tmp", "R_g", now.Add(-time.Hour))
	f.library(t, "librave.a", now.Add(-2*time.Hour))
	f.library(t, "librave_g.a", now)

	plan, err := f.filterer(Options{Mode: ruleset.Debug}).Filter(f.test("t1", "tmp", "R"))
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, filepath.Join(f.root, "tmp", "crc", "rule_set", "APC", "x86_64_linux", "R_g"), plan.Owned[0].Key())
}

func TestRebuildAll(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	f.source(t, "R")
	f.target(t, "tmp", "R", time.Now())

	plan, err := f.filterer(Options{RebuildAll: true}).Filter(f.test("t1", "tmp", "R"))
	require.NoError(t, err)
	require.NotNil(t, plan)
}

func TestOnlySelectedRulesets(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	f.source(t, "A")
	f.source(t, "B")

	plan, err := f.filterer(Options{Only: []string{"B"}}).Filter(f.test("t1", "tmp", "A", "B"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, plan.Names())
}

func TestInvalidRulesets(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	f.source(t, "A")

	plan, err := f.filterer(Options{}).Filter(f.test("t1", "tmp", "A", "missing"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, plan.Names())

	f.cfg.AllowInvalidRulesets = false
	t2 := f.test("t2", "tmp", "A", "missing")
	plan, err = f.filterer(Options{}).Filter(t2)
	assert.Nil(t, plan)
	invalid, ok := err.(*InvalidRulesetError)
	require.True(t, ok)
	assert.Equal(t, "missing", invalid.Name)
	assert.Equal(t, testmodel.NONE, t2.State().Category())
}

func TestUnreadableNamesGiveNoPlan(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	test := testmodel.NewSuiteTest(testmodel.SuiteSpec{App: "apc"},
		testmodel.TestSpec{Path: "t", RulesetFile: filepath.Join(f.root, "nope")}, testmodel.Defaults{})
	plan, err := f.filterer(Options{}).Filter(test)
	assert.NoError(t, err)
	assert.Nil(t, plan)
}

func TestDanglingCarmTmpIsLeftAlone(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	link := filepath.Join(f.root, "tmp")
	require.NoError(t, os.Symlink(filepath.Join(f.root, "gone"), link))

	plan, err := f.filterer(Options{}).Filter(f.test("t1", "tmp"))
	assert.NoError(t, err)
	assert.Nil(t, plan)
	_, err = os.Stat(filepath.Join(f.root, "gone"))
	assert.True(t, os.IsNotExist(err))
}
