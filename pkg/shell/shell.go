// Package shell runs local commands through bash.
//
// The working directory is an explicit option of every call; there is no
// process-wide "current directory" state.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/log"
)

// Options controls a single command run
type Options struct {
	// Dir is the working directory (default: the process working directory)
	Dir string

	// Pipefail makes a pipeline fail when any stage fails
	Pipefail bool

	// Env is added to the inherited environment
	Env map[string]string

	// RaiseOnError turns a non-zero exit code into a CommandError
	RaiseOnError bool

	// Redact lists secrets masked in logs and errors
	Redact []string
}

// Result is the outcome of a command
type Result struct {
	Output   string
	ExitCode int
}

// Runner runs shell commands
type Runner interface {
	Run(ctx context.Context, cmd string, opts Options) (*Result, error)
}

// Local runs commands on this host
type Local struct {
	// Shell is the interpreter (default: /bin/bash)
	Shell  string
	logger zerolog.Logger
}

// NewLocal creates a local runner
func NewLocal() *Local {
	return &Local{
		Shell:  "/bin/bash",
		logger: log.WithComponent("shell"),
	}
}

// Run executes cmd with stdout and stderr combined
func (l *Local) Run(ctx context.Context, cmd string, opts Options) (*Result, error) {
	full := cmd
	if opts.Pipefail {
		full = "set -o pipefail && " + full
	}

	c := exec.CommandContext(ctx, l.Shell, "-c", full)
	c.Dir = opts.Dir
	if len(opts.Env) > 0 {
		c.Env = append(os.Environ(), envList(opts.Env)...)
	}

	out := &output{logger: l.logger}
	c.Stdout = out
	c.Stderr = out

	shown := redact(full, opts.Redact)
	l.logger.Debug().Str("cmd", shown).Str("dir", opts.Dir).Msg("run")
	err := c.Run()
	out.flush()

	res := &Result{Output: out.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.ExitCode = exitErr.ExitCode()
	}

	if opts.RaiseOnError && res.ExitCode != 0 {
		return res, &errdefs.CommandError{Command: shown, ExitCode: res.ExitCode}
	}
	return res, nil
}

func redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "****")
		}
	}
	return s
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

// output buffers combined output and logs complete lines
type output struct {
	logger zerolog.Logger

	mu      sync.Mutex
	all     bytes.Buffer
	partial []byte
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.all.Write(p)
	o.partial = append(o.partial, p...)
	for {
		i := bytes.IndexByte(o.partial, '\n')
		if i < 0 {
			break
		}
		o.logger.Debug().Str("out", strings.TrimRight(string(o.partial[:i]), "\r")).Msg("out")
		o.partial = o.partial[i+1:]
	}
	return len(p), nil
}

func (o *output) flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.partial) > 0 {
		o.logger.Debug().Str("out", string(o.partial)).Msg("out")
		o.partial = nil
	}
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.all.String()
}
