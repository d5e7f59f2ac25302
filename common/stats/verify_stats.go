package stats

import (
	"bytes"
	"fmt"
	"testing"
)

// RuleChecker compares a got value from the registry against an expected value.
type RuleChecker struct {
	name    string
	checker func(got, expected interface{}) bool
}

func nilCheck(a, b interface{}) (nilFound, eqValues bool) {
	if a == nil && b == nil {
		return true, true
	}
	if a == nil || b == nil {
		return true, false
	}
	return false, false
}

func int64EqTest(a, b interface{}) bool {
	if nilFound, eq := nilCheck(a, b); nilFound {
		return eq
	}
	return a.(int64) == int64(b.(int))
}

func int64GTETest(a, b interface{}) bool {
	if nilFound, eq := nilCheck(a, b); nilFound {
		return eq
	}
	return a.(int64) >= int64(b.(int))
}

func doesNotExistTest(a, b interface{}) bool {
	return a == nil
}

var Int64EqTest = RuleChecker{name: "Int64EqTest", checker: int64EqTest}
var Int64GTETest = RuleChecker{name: "Int64GTETest", checker: int64GTETest}
var DoesNotExistTest = RuleChecker{name: "NotExistCheck", checker: doesNotExistTest}

// Rule pairs a checker with the expected value for one stat.
type Rule struct {
	Checker RuleChecker
	Value   interface{}
}

// VerifyStats fails t when any stat named in contains does not satisfy its rule.
// Only registries built by NewFinagleStatsRegistry can be verified.
func VerifyStats(tag string, statsRegistry StatsRegistry, t *testing.T, contains map[string]Rule) {
	t.Helper()
	reg, ok := statsRegistry.(*finagleStatsRegistry)
	if !ok {
		t.Errorf("%s: cannot verify stats on %T", tag, statsRegistry)
		return
	}

	asJson := reg.MarshalAll()
	var msg bytes.Buffer
	failed := false
	for key, rule := range contains {
		got := asJson[key]
		if rule.Checker.checker(got, rule.Value) {
			continue
		}
		failed = true
		if rule.Checker.name == DoesNotExistTest.name {
			fmt.Fprintf(&msg, "%s: found stat entry when there should not be one\n", key)
		} else {
			fmt.Fprintf(&msg, "%s: got %v, expected to pass %s with %v\n", key, got, rule.Checker.name, rule.Value)
		}
	}
	if failed {
		t.Errorf("%s:stats registry error:\n%s", tag, msg.String())
		PPrintStats(tag, reg)
	}
}

func PPrintStats(tag string, statsRegistry StatsRegistry) {
	reg, ok := statsRegistry.(*finagleStatsRegistry)
	if !ok {
		return
	}
	regBytes, _ := reg.MarshalJSONPretty()
	fmt.Printf("%s:  Stats Registry:\n%s\n", tag, regBytes)
}
