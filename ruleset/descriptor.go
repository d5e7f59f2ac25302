// Package ruleset describes compiled rule-sets: where their source lives, which
// targets a compile produces and how that compile went.
package ruleset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Environment variables read from a test.
const (
	EnvCarmSys  = "CARMSYS"
	EnvCarmUsr  = "CARMUSR"
	EnvCarmTmp  = "CARMTMP"
	EnvCarmGrp  = "CARMGROUP"
	EnvRaveMode = "TEXTTEST_RAVE_MODE"
)

// CompilerName is the rule compiler executable.
const CompilerName = "crc_compile"

// Environment gives read access to a test's environment.
type Environment interface {
	Getenv(name string) string
}

type Mode int

const (
	Optimize Mode = iota
	Debug
	Explorer
)

func (m Mode) String() string {
	switch m {
	case Debug:
		return "debug"
	case Explorer:
		return "explorer"
	default:
		return "optimize"
	}
}

// Flag is the compiler switch selecting this mode.
func (m Mode) Flag() string {
	return "-" + m.String()
}

type Status int

const (
	NotCompiled Status = iota
	Compiled
	CompileFailed
)

func (s Status) String() string {
	switch s {
	case Compiled:
		return "compiled"
	case CompileFailed:
		return "compile_failed"
	default:
		return "not_compiled"
	}
}

// Descriptor is one rule-set for one architecture and mode.
// Status and output are not synchronised; callers serialise access through the registry lock.
type Descriptor struct {
	Name        string
	SourcePath  string
	TargetPaths []string
	Flavours    []string
	Arch        string
	Mode        Mode

	carmSys  string
	raveMode []string
	status   Status
	output   string
}

// New derives source and target paths for name from env.
func New(name string, env Environment, flavours []string, arch string, mode Mode) *Descriptor {
	carmTmp := env.Getenv(EnvCarmTmp)
	targetName := name
	if mode == Debug {
		targetName += "_g"
	}
	targets := make([]string, 0, len(flavours))
	for _, flavour := range flavours {
		targets = append(targets, filepath.Join(carmTmp, "crc", "rule_set", strings.ToUpper(flavour), arch, targetName))
	}
	return &Descriptor{
		Name:        name,
		SourcePath:  filepath.Join(env.Getenv(EnvCarmUsr), "crc", "source", name),
		TargetPaths: targets,
		Flavours:    append([]string(nil), flavours...),
		Arch:        arch,
		Mode:        mode,
		carmSys:     env.Getenv(EnvCarmSys),
		raveMode:    strings.Fields(env.Getenv(EnvRaveMode)),
	}
}

// Key is the first target path, which identifies the rule-set process-wide.
func (d *Descriptor) Key() string {
	if len(d.TargetPaths) == 0 {
		return ""
	}
	return d.TargetPaths[0]
}

// IsValid reports whether the rule-set source exists.
func (d *Descriptor) IsValid() bool {
	if d.Name == "" || len(d.TargetPaths) == 0 {
		return false
	}
	_, err := os.Stat(d.SourcePath)
	return err == nil
}

// IsCompiled reports whether every target exists on disk.
func (d *Descriptor) IsCompiled() bool {
	for _, target := range d.TargetPaths {
		if _, err := os.Stat(target); err != nil {
			return false
		}
	}
	return len(d.TargetPaths) > 0
}

// NewestTargetModTime returns the latest modification time among the targets.
func (d *Descriptor) NewestTargetModTime() (time.Time, error) {
	var newest time.Time
	for _, target := range d.TargetPaths {
		info, err := os.Stat(target)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}

func (d *Descriptor) Status() Status { return d.status }
func (d *Descriptor) Output() string { return d.output }

// IsDone reports whether the compile outcome is known.
func (d *Descriptor) IsDone() bool { return d.status != NotCompiled }

// MarkSucceeded records a successful compile. It returns false, changing nothing,
// if an outcome was already recorded.
func (d *Descriptor) MarkSucceeded(output string) bool {
	return d.mark(Compiled, output)
}

// MarkFailed records a failed compile. It returns false, changing nothing,
// if an outcome was already recorded.
func (d *Descriptor) MarkFailed(output string) bool {
	return d.mark(CompileFailed, output)
}

func (d *Descriptor) mark(status Status, output string) bool {
	if d.status != NotCompiled {
		return false
	}
	d.status = status
	d.output = output
	return true
}

// Backup copies each existing target to <target>.bak. Failures are only logged.
func (d *Descriptor) Backup() {
	for _, target := range d.TargetPaths {
		if _, err := os.Stat(target); err != nil {
			continue
		}
		if err := copyFile(target, target+".bak"); err != nil {
			log.WithFields(log.Fields{
				"ruleset": d.Name,
				"target":  target,
				"err":     err,
			}).Warn("Failed to back up ruleset target")
		}
	}
}

// CompilerPath returns the compiler executable. Remote jobs use the absolute
// path under $CARMSYS, local ones rely on PATH lookup.
func (d *Descriptor) CompilerPath(remote bool) string {
	if remote {
		return filepath.Join(d.carmSys, "bin", CompilerName)
	}
	return CompilerName
}

// CommandLine returns the compiler invocation for this rule-set.
func (d *Descriptor) CommandLine(remote bool) ([]string, error) {
	compiler := d.CompilerPath(remote)
	if remote {
		if info, err := os.Stat(compiler); err != nil || info.IsDir() {
			return nil, &NoCompilerError{Path: compiler}
		}
	}
	args := []string{compiler}
	args = append(args, d.Flavours...)
	args = append(args, d.Mode.Flag())
	args = append(args, d.raveMode...)
	args = append(args, "-archs", d.Arch, d.SourcePath)
	return args, nil
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.Name, d.status)
}

// NoCompilerError is returned when the remote compiler executable is missing.
type NoCompilerError struct {
	Path string
}

func (e *NoCompilerError) Error() string {
	return "Failed to submit rule compilation, no rule compiler found at " + e.Path
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copying %s", src)
	}
	return out.Close()
}
