package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScopeChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	assert.Empty(t, stat.scope)

	statp := stat.Scope("a/b", "c").(*defaultStatsReceiver)
	assert.Empty(t, stat.scope, "parent scope must not change")
	assert.Equal(t, []string{"a_SLASH_b", "c"}, statp.scope)
	assert.Equal(t, "a_SLASH_b/c/d", statp.scopedName("d"))
}

func TestPrecisionChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	assert.Equal(t, time.Nanosecond, stat.precision)

	statp := stat.Precision(time.Millisecond).(*defaultStatsReceiver)
	assert.Equal(t, time.Nanosecond, stat.precision)
	assert.Equal(t, time.Millisecond, statp.precision)
}

func TestMarshal(t *testing.T) {
	ct := make(chan time.Time, 2)
	defer func() { Time = DefaultStatsTime() }()

	reg := NewFinagleStatsRegistry()
	reg.GetOrRegister("counter", NewCounter()).(Counter).Inc(1)
	reg.GetOrRegister("gauge", NewGauge()).(Gauge).Update(2)

	Time = NewTestTime(time.Unix(0, 0), time.Nanosecond*5, ct)
	reg.GetOrRegister("latency", NewLatency()).(Latency).Time().Stop()
	Time = NewTestTime(time.Unix(0, 0), time.Nanosecond*10, ct)
	reg.GetOrRegister("latency", NewLatency()).(Latency).Time().Stop()

	bytes, err := reg.(MarshalerPretty).MarshalJSONPretty()
	assert.NoError(t, err)
	expected := `{
  "counter": 1,
  "gauge": 2,
  "latency.avg": 7.5,
  "latency.count": 2,
  "latency.max": 10,
  "latency.min": 5,
  "latency.p50": 7.5,
  "latency.p90": 10,
  "latency.p99": 10,
  "latency.sum": 15
}`
	assert.Equal(t, expected, string(bytes))
}

func TestVerifyStats(t *testing.T) {
	reg := NewFinagleStatsRegistry()
	stat, cancel := NewCustomStatsReceiver(func() StatsRegistry { return reg }, 0)
	defer cancel()

	stat.Counter(RuleSchedJobsSubmittedCounter).Inc(3)
	stat.Gauge(RuleRegistrySizeGauge).Update(2)

	VerifyStats("verify", reg, t, map[string]Rule{
		RuleSchedJobsSubmittedCounter: {Checker: Int64EqTest, Value: 3},
		RuleRegistrySizeGauge:         {Checker: Int64GTETest, Value: 1},
		RuleKillWorkerLostCounter:     {Checker: DoesNotExistTest},
	})
}

func TestNilReceiverIgnoresEverything(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Counter("a").Inc(1)
	stat.Gauge("b").Update(1)
	stat.Latency("c").Time().Stop()
	assert.Equal(t, int64(0), stat.Counter("a").Count())
	assert.Empty(t, stat.Render(true))
}
