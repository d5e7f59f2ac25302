package ruleset

import (
	"strings"
)

// Plan lists the rule-sets a test builds itself and those it waits on another test for.
type Plan struct {
	Owned  []*Descriptor
	Shared []*Descriptor
}

// AddOwned appends d unless a rule-set with the same key is already planned.
func (p *Plan) AddOwned(d *Descriptor) {
	if !p.Contains(d) {
		p.Owned = append(p.Owned, d)
	}
}

// AddShared appends d unless a rule-set with the same key is already planned.
func (p *Plan) AddShared(d *Descriptor) {
	if !p.Contains(d) {
		p.Shared = append(p.Shared, d)
	}
}

func (p *Plan) Contains(d *Descriptor) bool {
	for _, existing := range p.All() {
		if existing.Key() == d.Key() {
			return true
		}
	}
	return false
}

// All returns owned then shared rule-sets.
func (p *Plan) All() []*Descriptor {
	if p == nil {
		return nil
	}
	all := make([]*Descriptor, 0, len(p.Owned)+len(p.Shared))
	all = append(all, p.Owned...)
	return append(all, p.Shared...)
}

func (p *Plan) IsEmpty() bool {
	return p == nil || len(p.Owned)+len(p.Shared) == 0
}

func (p *Plan) Names() []string {
	var names []string
	for _, d := range p.All() {
		names = append(names, d.Name)
	}
	return names
}

// Description renders "ruleset a" or "rulesets a, b and c".
func (p *Plan) Description() string {
	names := p.Names()
	switch len(names) {
	case 0:
		return "no rulesets"
	case 1:
		return "ruleset " + names[0]
	default:
		return "rulesets " + strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

// Failed returns the first rule-set whose compile failed, or nil.
func (p *Plan) Failed() *Descriptor {
	for _, d := range p.All() {
		if d.Status() == CompileFailed {
			return d
		}
	}
	return nil
}

// AllCompiled reports whether every planned rule-set compiled.
func (p *Plan) AllCompiled() bool {
	for _, d := range p.All() {
		if d.Status() != Compiled {
			return false
		}
	}
	return !p.IsEmpty()
}

// Output joins the captured compiler output of every rule-set.
func (p *Plan) Output() string {
	var outputs []string
	for _, d := range p.All() {
		outputs = append(outputs, d.Output())
	}
	return strings.Join(outputs, "\n")
}
