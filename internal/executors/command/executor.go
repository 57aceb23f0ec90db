// Package command provides an executor that runs an external program.
//
// Unit bytes are written to the program's stdin and its stdout becomes the
// output unit. Exit code 75 (EX_TEMPFAIL) asks for a retry; any other
// non-zero exit is a permanent failure.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// Ensure Executor implements the interface.
var _ driven.StageExecutor = (*Executor)(nil)

// ExitTempFail is the sysexits code for a temporary failure.
const ExitTempFail = 75

// maxStderr bounds how much stderr is kept in a failure reason.
const maxStderr = 512

// waitDelay bounds how long Wait blocks on pipes after the process is killed.
const waitDelay = 2 * time.Second

// Executor runs a command per unit, or once over the whole document.
type Executor struct {
	path       string
	args       []string
	env        []string
	dir        string
	perUnit    bool
	splitPages bool
}

// Option configures the executor.
type Option func(*Executor)

// WithEnv adds environment variables to the command.
func WithEnv(env map[string]string) Option {
	return func(e *Executor) {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.env = append(e.env, k+"="+env[k])
		}
	}
}

// WithDir sets the working directory.
func WithDir(dir string) Option {
	return func(e *Executor) {
		e.dir = dir
	}
}

// WithPerUnit runs the command once per input unit. Otherwise the units
// are concatenated onto one stdin.
func WithPerUnit(perUnit bool) Option {
	return func(e *Executor) {
		e.perUnit = perUnit
	}
}

// WithSplitPages splits document output on form feeds into one unit per page.
func WithSplitPages(split bool) Option {
	return func(e *Executor) {
		e.splitPages = split
	}
}

// New creates a command executor for argv.
func New(argv []string, opts ...Option) (*Executor, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("%w: command is required", domain.ErrInvalidInput)
	}
	e := &Executor{path: argv[0], args: argv[1:]}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes the command for in.
func (e *Executor) Run(ctx context.Context, in domain.StageInput) domain.StageResult {
	if !e.perUnit {
		var stdin []byte
		for _, u := range in.Units {
			stdin = append(stdin, u.Data...)
		}
		out, err := e.exec(ctx, in, -1, stdin)
		if err != nil {
			return domain.ResultFromError(err)
		}
		if !e.splitPages {
			return domain.Succeeded{Units: []domain.Unit{{Index: 0, Data: out}}}
		}
		pages := bytes.Split(out, []byte{'\f'})
		if len(pages) > 1 && len(bytes.TrimSpace(pages[len(pages)-1])) == 0 {
			pages = pages[:len(pages)-1]
		}
		units := make([]domain.Unit, len(pages))
		for i, p := range pages {
			units[i] = domain.Unit{Index: i, Data: p}
		}
		return domain.Succeeded{Units: units}
	}

	units := make([]domain.Unit, 0, len(in.Units))
	for _, u := range in.Units {
		if err := ctx.Err(); err != nil {
			return domain.ResultFromError(err)
		}
		out, err := e.exec(ctx, in, u.Index, u.Data)
		if err != nil {
			return domain.ResultFromError(fmt.Errorf("unit %d: %w", u.Index, err))
		}
		units = append(units, domain.Unit{Index: u.Index, Data: out})
	}
	return domain.Succeeded{Units: units}
}

// exec runs the command once. unit is -1 for a whole-document run.
func (e *Executor) exec(ctx context.Context, in domain.StageInput, unit int, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.path, e.args...)
	cmd.Dir = e.dir
	cmd.WaitDelay = waitDelay
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(os.Environ(), e.env...)
	cmd.Env = append(cmd.Env,
		"DEBATEPIPE_DOCUMENT="+in.DocumentID,
		"DEBATEPIPE_STAGE="+in.Stage,
		"DEBATEPIPE_UNIT="+strconv.Itoa(unit),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("run %s: %w", e.path, err)
	}
	msg := fmt.Sprintf("%s exited with %d", e.path, exitErr.ExitCode())
	if tail := stderrTail(stderr.Bytes()); tail != "" {
		msg += ": " + tail
	}
	if exitErr.ExitCode() == ExitTempFail {
		return nil, fmt.Errorf("%s: %w", msg, domain.ErrTransient)
	}
	return nil, errors.New(msg)
}

func stderrTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
