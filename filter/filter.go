// Package filter decides which rule-sets a test needs compiled and claims them
// in the registry so each target is compiled by exactly one test.
package filter

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/config"
	"github.com/twitter/rulecomp/registry"
	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

// Options select what gets compiled.
//
// RebuildAll - recompile even rule-sets that are up to date
// Mode - optimize, debug or explorer targets
// Only - when non-empty, only these rule-set names are considered
type Options struct {
	RebuildAll bool
	Mode       ruleset.Mode
	Only       []string
}

// InvalidRulesetError reports a rule-set whose source is missing when
// allow_invalid_rulesets is off.
type InvalidRulesetError struct {
	Name   string
	Source string
}

func (e *InvalidRulesetError) Error() string {
	return fmt.Sprintf("Ruleset %s does not exist (no source file at %s)", e.Name, e.Source)
}

type Filterer struct {
	registry *registry.Registry
	cfg      *config.Config
	opts     Options
	stat     stats.StatsReceiver
}

func NewFilterer(reg *registry.Registry, cfg *config.Config, opts Options, stat stats.StatsReceiver) *Filterer {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Filterer{registry: reg, cfg: cfg, opts: opts, stat: stat}
}

// Filter returns the plan of rule-sets t must wait for, or nil when none need
// compiling. A non-empty plan moves t to NeedRuleCompilation. The only error
// is an *InvalidRulesetError.
func (f *Filterer) Filter(t testmodel.Test) (*ruleset.Plan, error) {
	f.stat.Counter(stats.RuleFilterTestsCounter).Inc(1)
	names, err := t.RulesetNames()
	if err != nil {
		log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Could not determine ruleset names, not compiling rulesets")
		return nil, nil
	}

	var needed []*ruleset.Descriptor
	for _, name := range names {
		if !f.selected(name) {
			continue
		}
		d := ruleset.New(name, t, f.cfg.RaveNames(t.Product()), t.Architecture(), f.opts.Mode)
		if !d.IsValid() {
			f.stat.Counter(stats.RuleFilterInvalidRulesetCounter).Inc(1)
			if !f.cfg.AllowInvalidRulesets {
				return nil, &InvalidRulesetError{Name: name, Source: d.SourcePath}
			}
			log.WithFields(log.Fields{"test": t.ID(), "ruleset": name, "source": d.SourcePath}).Info("Ignoring ruleset with no source")
			continue
		}
		if f.needsCompile(t, d) {
			needed = append(needed, d)
		}
	}

	plan := &ruleset.Plan{}
	f.registry.Lock()
	defer f.registry.Unlock()
	for _, d := range needed {
		registered, owned := f.registry.ClaimLocked(t, d)
		if owned {
			plan.AddOwned(registered)
			f.stat.Counter(stats.RuleFilterOwnedCounter).Inc(1)
		} else {
			plan.AddShared(registered)
			f.stat.Counter(stats.RuleFilterSharedCounter).Inc(1)
		}
	}
	ensureCarmTmpExists(t)
	if plan.IsEmpty() {
		return nil, nil
	}
	if err := t.ChangeState(&testmodel.NeedRuleCompilation{Plan: plan}); err != nil {
		log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Could not mark test as needing rule compilation")
	}
	log.WithFields(log.Fields{
		"test":   t.ID(),
		"owned":  len(plan.Owned),
		"shared": len(plan.Shared),
	}).Info("Rulesets need compiling")
	return plan, nil
}

func (f *Filterer) selected(name string) bool {
	if len(f.opts.Only) == 0 {
		return true
	}
	for _, only := range f.opts.Only {
		if only == name {
			return true
		}
	}
	return false
}

func (f *Filterer) needsCompile(t testmodel.Test, d *ruleset.Descriptor) bool {
	if f.opts.RebuildAll || !d.IsCompiled() {
		return true
	}
	lib := f.staticLibrary(t)
	if lib == "" {
		return false
	}
	libInfo, err := os.Stat(lib)
	if err != nil || !libInfo.Mode().IsRegular() {
		// No static library: assume dynamic linkage, the targets stay valid.
		return false
	}
	newest, err := d.NewestTargetModTime()
	if err != nil {
		return true
	}
	if newest.Before(libInfo.ModTime()) {
		log.WithFields(log.Fields{"ruleset": d.Name, "library": lib}).Info("Static library newer than ruleset, recompiling")
		return true
	}
	return false
}

// staticLibrary resolves rave_static_library for t, selecting the debug archive in debug mode.
func (f *Filterer) staticLibrary(t testmodel.Test) string {
	lib := os.Expand(f.cfg.RaveStaticLibrary, t.Getenv)
	if lib != "" && f.opts.Mode == ruleset.Debug && strings.HasSuffix(lib, ".a") {
		lib = strings.TrimSuffix(lib, ".a") + "_g.a"
	}
	return lib
}

func ensureCarmTmpExists(t testmodel.Test) {
	carmTmp := t.Getenv(ruleset.EnvCarmTmp)
	if carmTmp == "" {
		return
	}
	if info, err := os.Lstat(carmTmp); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if _, err := os.Stat(carmTmp); err != nil {
			log.WithFields(log.Fields{"test": t.ID(), "carmtmp": carmTmp}).Warn("CARMTMP is a link to a non-existent location")
		}
		return
	}
	if err := os.MkdirAll(carmTmp, 0775); err != nil {
		log.WithFields(log.Fields{"test": t.ID(), "carmtmp": carmTmp, "err": err}).Error("Could not create CARMTMP")
	}
}
