package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/log/hooks"
	"github.com/twitter/rulecomp/remotecmd"
)

// Runs one rule compile on a queue worker and reports its start and exit
// code back to the orchestrator.
//	remotecmd [flags] <target> <host:port> <compiler> [compiler args...]

var logLevel = flag.String("log_level", "info", "Log everything at this level and above (error|info|debug)")
var killGrace = flag.Duration("kill_grace", 10*time.Second, "time between SIGTERM and SIGKILL of the compiler")
var timeout = flag.Duration("timeout", 0, "stop the compiler after this long, 0 for no limit")

func main() {
	log.AddHook(hooks.NewContextHook())
	flag.Parse()
	if level, err := log.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Error(err)
	}

	args := flag.Args()
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: remotecmd [flags] <target> <host:port> <compiler> [compiler args...]")
		os.Exit(2)
	}

	killCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGXCPU)
	go func() {
		sig := <-sigCh
		log.WithFields(log.Fields{"signal": sig}).Info("Stopping compiler")
		close(killCh)
	}()

	w := &remotecmd.Worker{
		Reporter:  remotecmd.NewClient(args[1]),
		KillCh:    killCh,
		KillGrace: *killGrace,
		Timeout:   *timeout,
	}
	os.Exit(w.Run(args[0], args[2:]))
}
