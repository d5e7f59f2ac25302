package main

import (
	"io"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/rulecomp/common/errors"
	"github.com/twitter/rulecomp/config"
	"github.com/twitter/rulecomp/testmodel"
)

type rulecompCLI struct {
	rootCmd *cobra.Command
	out     io.Writer

	logLevel   string
	configPath string
	suites     []string
}

type command interface {
	registerFlags() *cobra.Command
	run(cl *rulecompCLI, cmd *cobra.Command, args []string) error
}

func newCLI(out io.Writer) *rulecompCLI {
	c := &rulecompCLI{out: out}
	c.rootCmd = &cobra.Command{
		Use:               "rulecomp",
		Short:             "rulecomp compiles the rule-sets a test suite needs before running it",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setLogLevel,
	}
	flags := c.rootCmd.PersistentFlags()
	flags.StringVar(&c.logLevel, "log_level", "info", "Log everything at this level and above (error|info|debug)")
	flags.StringVar(&c.configPath, "config", "", "YAML configuration file")
	flags.StringSliceVar(&c.suites, "suite", nil, "Suite file to load, may be repeated")

	c.addCmd(&runCmd{})
	c.addCmd(&rulesetsCmd{})
	return c
}

func (c *rulecompCLI) Exec() error {
	return c.rootCmd.Execute()
}

func (c *rulecompCLI) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

func (c *rulecompCLI) setLogLevel(*cobra.Command, []string) error {
	level, err := log.ParseLevel(c.logLevel)
	if err != nil {
		return errors.NewError(err, errors.ConfigErrorExitCode)
	}
	log.SetLevel(level)
	return nil
}

// load reads the configuration and every suite, in the order given.
func (c *rulecompCLI) load() (*config.Config, []*testmodel.SuiteTest, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, errors.NewError(err, errors.ConfigErrorExitCode)
	}
	if len(c.suites) == 0 {
		return nil, nil, errors.NewErrorf(errors.SuiteLoadExitCode, "no suite given, use --suite")
	}
	defaults := testmodel.Defaults{Architecture: cfg.DefaultArchitecture, MajorRelease: cfg.DefaultMajorRelease}
	var tests []*testmodel.SuiteTest
	for _, path := range c.suites {
		loaded, err := testmodel.LoadSuite(path, defaults)
		if err != nil {
			return nil, nil, errors.NewError(err, errors.SuiteLoadExitCode)
		}
		tests = append(tests, loaded...)
	}
	log.WithFields(log.Fields{"suites": len(c.suites), "tests": len(tests)}).Info("Loaded suites")
	return &cfg, tests, nil
}

func architectures(tests []*testmodel.SuiteTest) []string {
	seen := map[string]bool{}
	var archs []string
	for _, t := range tests {
		if !seen[t.Architecture()] {
			seen[t.Architecture()] = true
			archs = append(archs, t.Architecture())
		}
	}
	sort.Strings(archs)
	return archs
}
