package testmodel

import (
	"fmt"

	"github.com/twitter/rulecomp/ruleset"
)

// Category names a test's lifecycle stage.
type Category int

const (
	NONE Category = iota
	NEED_RULECOMPILE
	PEND_RULECOMPILE
	RUNNING_RULECOMPILE
	RULESET_COMPILED
	UNRUNNABLE
	CANCELLED
	COMPLETED
)

func (c Category) String() string {
	switch c {
	case NEED_RULECOMPILE:
		return "need_rulecompile"
	case PEND_RULECOMPILE:
		return "pend_rulecompile"
	case RUNNING_RULECOMPILE:
		return "running_rulecompile"
	case RULESET_COMPILED:
		return "ruleset_compiled"
	case UNRUNNABLE:
		return "unrunnable"
	case CANCELLED:
		return "cancelled"
	case COMPLETED:
		return "completed"
	default:
		return "none"
	}
}

// IsComplete reports whether no further transition is possible.
func (c Category) IsComplete() bool {
	return c == UNRUNNABLE || c == CANCELLED || c == COMPLETED
}

// IsRuleCompileTerminal reports whether rule compilation has nothing left to do for the test.
func (c Category) IsRuleCompileTerminal() bool {
	return c == RULESET_COMPILED || c.IsComplete()
}

// InRuleCompilation reports whether the test is waiting on rule-sets.
func (c Category) InRuleCompilation() bool {
	return c == NEED_RULECOMPILE || c == PEND_RULECOMPILE || c == RUNNING_RULECOMPILE
}

// CanTransition reports whether a test may move from one category to another.
func CanTransition(from, to Category) bool {
	if from.IsComplete() {
		return false
	}
	if to == CANCELLED {
		return true
	}
	switch from {
	case NONE:
		return to == NEED_RULECOMPILE || to == RULESET_COMPILED || to == UNRUNNABLE || to == COMPLETED
	case NEED_RULECOMPILE:
		return to == NEED_RULECOMPILE || to == PEND_RULECOMPILE || to == RUNNING_RULECOMPILE ||
			to == RULESET_COMPILED || to == UNRUNNABLE
	case PEND_RULECOMPILE:
		return to == RUNNING_RULECOMPILE || to == RULESET_COMPILED || to == UNRUNNABLE
	case RUNNING_RULECOMPILE:
		return to == RUNNING_RULECOMPILE || to == RULESET_COMPILED || to == UNRUNNABLE
	case RULESET_COMPILED:
		return to == COMPLETED || to == UNRUNNABLE
	}
	return false
}

// State is one of the concrete state types below.
type State interface {
	Category() Category
	BriefText() string
	FreeText() string
}

// Planned is implemented by the states that carry a rule-compilation plan.
type Planned interface {
	State
	RulePlan() *ruleset.Plan
}

// PlanOf returns the plan carried by s, or nil.
func PlanOf(s State) *ruleset.Plan {
	if p, ok := s.(Planned); ok {
		return p.RulePlan()
	}
	return nil
}

type NotStarted struct{}

func (NotStarted) Category() Category { return NONE }
func (NotStarted) BriefText() string  { return "" }
func (NotStarted) FreeText() string   { return "" }

type NeedRuleCompilation struct {
	Plan *ruleset.Plan
}

func (s *NeedRuleCompilation) Category() Category      { return NEED_RULECOMPILE }
func (s *NeedRuleCompilation) BriefText() string       { return "RULES NEEDED" }
func (s *NeedRuleCompilation) FreeText() string        { return "Need to build " + s.Plan.Description() }
func (s *NeedRuleCompilation) RulePlan() *ruleset.Plan { return s.Plan }

// PendingRuleCompilation means the compile jobs are submitted but none has started.
type PendingRuleCompilation struct {
	Plan *ruleset.Plan
}

func (s *PendingRuleCompilation) Category() Category { return PEND_RULECOMPILE }
func (s *PendingRuleCompilation) BriefText() string  { return "RULES PEND" }
func (s *PendingRuleCompilation) FreeText() string {
	return "Build pending for " + s.Plan.Description()
}
func (s *PendingRuleCompilation) RulePlan() *ruleset.Plan { return s.Plan }

type RunningRuleCompilation struct {
	Plan *ruleset.Plan
	Host string
}

func (s *RunningRuleCompilation) Category() Category { return RUNNING_RULECOMPILE }
func (s *RunningRuleCompilation) BriefText() string  { return fmt.Sprintf("RULES (%s)", s.Host) }
func (s *RunningRuleCompilation) FreeText() string {
	return fmt.Sprintf("Compiling %s on %s", s.Plan.Description(), s.Host)
}
func (s *RunningRuleCompilation) RulePlan() *ruleset.Plan { return s.Plan }

// RulesetCompiled means every rule-set the test needs is available. Plan is nil
// when nothing had to be compiled.
type RulesetCompiled struct {
	Plan *ruleset.Plan
	Host string
}

func (s *RulesetCompiled) Category() Category { return RULESET_COMPILED }
func (s *RulesetCompiled) BriefText() string  { return "READY" }
func (s *RulesetCompiled) FreeText() string {
	if s.Plan.IsEmpty() {
		return "No rulesets needed compiling"
	}
	return "All " + s.Plan.Description() + " compiled"
}
func (s *RulesetCompiled) RulePlan() *ruleset.Plan { return s.Plan }

type Unrunnable struct {
	Brief string
	Full  string
}

func (s *Unrunnable) Category() Category { return UNRUNNABLE }
func (s *Unrunnable) BriefText() string  { return s.Brief }
func (s *Unrunnable) FreeText() string   { return s.Full }

type Cancelled struct {
	Brief string
	Full  string
}

func (s *Cancelled) Category() Category { return CANCELLED }
func (s *Cancelled) BriefText() string  { return s.Brief }
func (s *Cancelled) FreeText() string   { return s.Full }

// Completed is reported by the execution side once the test has run.
type Completed struct {
	Brief string
	Full  string
}

func (s *Completed) Category() Category { return COMPLETED }
func (s *Completed) BriefText() string  { return s.Brief }
func (s *Completed) FreeText() string   { return s.Full }
