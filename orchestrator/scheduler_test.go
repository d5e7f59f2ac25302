package orchestrator

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/queue"
	"github.com/twitter/rulecomp/registry"
	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

func suiteTest(env map[string]string, spec testmodel.TestSpec) *testmodel.SuiteTest {
	return testmodel.NewSuiteTest(
		testmodel.SuiteSpec{App: "apc", Version: "12", MajorRelease: "25", Environment: env},
		spec,
		testmodel.Defaults{Architecture: "x86_64_linux"})
}

func TestSubmissionRulesAndEnvironment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	backend := queue.NewMockBackend(ctrl)
	backend.EXPECT().Name().Return("local").AnyTimes()
	s := NewScheduler(registry.New(nil), backend, nil, nil, killSet{}, nil, "remotecmd", "", "apc", stats.NilStatsReceiver())
	s.SetServerAddress("build1:4000")

	test := suiteTest(map[string]string{
		"CARMSYS":                    "/carm/sys",
		"CARMUSR":                    "/carm/usr",
		"CARMTMP":                    "/carm/tmp",
		"CARMGROUP":                  "planners",
		"CARMROLE":                   "admin",
		"QUEUE_SYSTEM_RESOURCE_RAVE": "mem=4g,fast=1",
		"TEXTTEST_RAVE_MODE":         "-DFOO=1",
	}, testmodel.TestSpec{Path: "t1", UserSuite: "userA"})
	d := ruleset.New("R", test, []string{"apc", "gpc"}, "x86_64_linux", ruleset.Optimize)

	rules := s.SubmissionRulesLocked(test, d)
	assert.Equal(t, queue.SubmissionRules{
		JobName:         "Rules-R-userA-apc",
		QueueResource:   "rave",
		ResourceList:    []string{"carmarch=*x86_64_linux*", "carmbuild25=1", "mem=4g", "fast=1"},
		ProcessesNeeded: 1,
	}, rules)

	env := s.Environment(test)
	assert.Equal(t, "/carm/tmp", env["CARMTMP"])
	assert.Equal(t, "planners", env["CARMGROUP"])
	assert.Equal(t, "admin", env["CARMROLE"])
	assert.Equal(t, "1", env[LocalCompileEnv])

	command, err := s.Command(test, d)
	require.NoError(t, err)
	assert.Equal(t, "remotecmd /carm/tmp/crc/rule_set/APC/x86_64_linux/R build1:4000 crc_compile apc gpc -optimize -DFOO=1 -archs x86_64_linux /carm/usr/crc/source/R", command)

	overridden := suiteTest(map[string]string{"TEXTTEST_MIM_SERVER": "mim:99", "CARMTMP": "/carm/tmp"}, testmodel.TestSpec{Path: "t2"})
	command, err = s.Command(overridden, ruleset.New("R", overridden, []string{"apc"}, "x86_64_linux", ruleset.Optimize))
	require.NoError(t, err)
	assert.Contains(t, command, " mim:99 ")
}

func TestJobNameUsesBasicRaveName(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	backend := queue.NewMockBackend(ctrl)
	backend.EXPECT().Name().Return("local").AnyTimes()
	s := NewScheduler(registry.New(nil), backend, nil, nil, killSet{}, nil, "remotecmd", "", "apc", stats.NilStatsReceiver())

	first := suiteTest(map[string]string{"CARMTMP": "/carm/tmp"}, testmodel.TestSpec{Path: "t1", UserSuite: "userA"})
	second := suiteTest(map[string]string{"CARMTMP": "/carm/tmp"}, testmodel.TestSpec{Path: "t2", UserSuite: "userA"})
	elsewhere := suiteTest(map[string]string{"CARMTMP": "/other/tmp"}, testmodel.TestSpec{Path: "t3", UserSuite: "userA"})

	twoFlavours := ruleset.New("R", first, []string{"apc", "ccp"}, "x86_64_linux", ruleset.Optimize)
	oneFlavour := ruleset.New("R", second, []string{"apc"}, "x86_64_linux", ruleset.Optimize)
	assert.Equal(t, "Rules-R-userA-apc", s.JobNameLocked(first, twoFlavours))
	assert.Equal(t, "Rules-R-userA-apc", s.JobNameLocked(second, oneFlavour), "same CARMTMP shares the name")
	other := ruleset.New("R", elsewhere, []string{"ccp"}, "x86_64_linux", ruleset.Optimize)
	assert.Equal(t, "Rules-R-userA-apc.12", s.JobNameLocked(elsewhere, other))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "/carm/tmp/R", shellQuote("/carm/tmp/R"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "'a b'", shellQuote("a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestBackendExecutionQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	backend := queue.NewMockBackend(ctrl)
	backend.EXPECT().Name().Return("sge").AnyTimes()
	backend.EXPECT().SubmitJob(gomock.Any(), gomock.Any(), "./run.sh", map[string]string{"CARMTMP": "/carm/tmp"}).DoAndReturn(
		func(_ context.Context, rules queue.SubmissionRules, _ string, _ map[string]string) (queue.JobID, error) {
			assert.Equal(t, "Test-t1-apc", rules.JobName)
			assert.Equal(t, "batch", rules.QueueResource)
			return "77", nil
		})

	q := NewBackendExecutionQueue(backend, "batch")
	withCommand := suiteTest(map[string]string{"CARMTMP": "/carm/tmp"}, testmodel.TestSpec{Path: "t1", RunCommand: "./run.sh"})
	withoutCommand := suiteTest(nil, testmodel.TestSpec{Path: "t2"})
	require.NoError(t, q.SubmitTest(context.Background(), withCommand))
	require.NoError(t, q.SubmitTest(context.Background(), withoutCommand))
	assert.False(t, q.Done())
	q.AllSubmitted()
	assert.True(t, q.Done())
	assert.Equal(t, []Released{{TestID: "apc.12:t1", JobID: "77"}, {TestID: "apc.12:t2"}}, q.Released())
}
