package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/errors"
	"github.com/twitter/rulecomp/common/log/hooks"
	_ "github.com/twitter/rulecomp/queue/local"
	_ "github.com/twitter/rulecomp/queue/lsf"
	_ "github.com/twitter/rulecomp/queue/sge"
)

// Compiles the rule-sets the tests of one or more suites need, then hands
// the tests on for execution.
//	Supported commands: (see "-h" for all options)
//		run
//		rulesets
//	Global flags:
//		--config [<path> of the YAML configuration]
//		--suite [<path> of a suite file, repeatable]
//		--log_level [<error|info|debug> level and above should be logged]

func main() {
	log.AddHook(hooks.NewContextHook())

	cl := newCLI(os.Stdout)
	if err := cl.Exec(); err != nil {
		log.Error("Error running rulecomp: ", err)
		os.Exit(int(errors.ExitCodeOf(err)))
	}
}
