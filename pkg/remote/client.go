package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/log"
)

// Config describes a host reachable by SSH with password authentication
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	// Timeout bounds the TCP connect and SSH handshake (default: 30s)
	Timeout time.Duration
}

// Options controls a single command run
type Options struct {
	// Sudo wraps the command in sudo and feeds the password on stdin.
	// It has no effect when logged in as root.
	Sudo bool

	// RaiseOnError turns a non-zero exit status into a RemoteError
	RaiseOnError bool

	// Input is written to stdin, newline terminated, after the password
	Input string

	// Env is exported before the command runs
	Env map[string]string
}

// Result is the outcome of a command
type Result struct {
	Output     string
	ExitStatus int
}

// Client runs commands on one host. The connection is opened on first use
// and shared by every command; a connection found dead is redialed once.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewClient creates a client; it does not connect
func NewClient(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		logger: log.WithComponent("remote").With().Str("host", cfg.Host).Logger(),
	}
}

// Host returns the address of the remote host
func (c *Client) Host() string {
	return c.cfg.Host
}

func (c *Client) conn(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	tcp, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sshCfg := &ssh.ClientConfig{
		User: c.cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(c.cfg.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.cfg.Password
				}
				return answers, nil
			}),
		},
		// Appliances are redeployed on every run and get a new host key
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         c.cfg.Timeout,
	}

	_ = tcp.SetDeadline(time.Now().Add(c.cfg.Timeout))
	sc, chans, reqs, err := ssh.NewClientConn(tcp, addr, sshCfg)
	if err != nil {
		_ = tcp.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	_ = tcp.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sc, chans, reqs)
	return c.client, nil
}

// session opens a session on the shared connection. When that fails the
// connection is dropped and dialed again once.
func (c *Client) session(ctx context.Context) (*ssh.Session, error) {
	client, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}

	c.logger.Warn().Err(err).Msg("Connection lost, reconnecting")
	c.drop(client)
	if client, err = c.conn(ctx); err != nil {
		return nil, err
	}
	if session, err = client.NewSession(); err != nil {
		return nil, fmt.Errorf("failed to open session on %s: %w", c.cfg.Host, err)
	}
	return session, nil
}

// drop forgets client unless another command already replaced it
func (c *Client) drop(client *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == client {
		_ = client.Close()
		c.client = nil
	}
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// Run executes cmd and returns its combined stdout and stderr
func (c *Client) Run(ctx context.Context, cmd string, opts Options) (*Result, error) {
	session, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	full := withEnv(cmd, opts.Env)
	var stdin bytes.Buffer
	if opts.Sudo && c.cfg.User != "root" {
		full = "sudo -S -p '' " + full
		if c.cfg.Password != "" {
			stdin.WriteString(c.cfg.Password + "\n")
		}
	}
	if opts.Input != "" {
		stdin.WriteString(opts.Input + "\n")
	}
	session.Stdin = &stdin

	out := &lineLogger{logger: c.logger}
	session.Stdout = out
	session.Stderr = out

	c.logger.Debug().Str("cmd", full).Msg("run")

	done := make(chan error, 1)
	go func() { done <- session.Run(full) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		return nil, ctx.Err()
	case runErr = <-done:
	}
	out.flush()

	res := &Result{Output: out.String()}
	if runErr != nil {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case errors.As(runErr, &exitErr):
			res.ExitStatus = exitErr.ExitStatus()
		case errors.As(runErr, &missing):
			res.ExitStatus = -1
		default:
			return nil, fmt.Errorf("failed to run command on %s: %w", c.cfg.Host, runErr)
		}
	}

	if opts.RaiseOnError && res.ExitStatus != 0 {
		return res, &errdefs.RemoteError{Host: c.cfg.Host, Command: full, ExitStatus: res.ExitStatus}
	}
	return res, nil
}

// Output runs cmd without sudo and fails on a non-zero exit status
func (c *Client) Output(ctx context.Context, cmd string) (string, error) {
	res, err := c.Run(ctx, cmd, Options{RaiseOnError: true})
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// CopyFile transfers local file src into directory destDir of the remote
// host and returns the remote path.
func (c *Client) CopyFile(ctx context.Context, src, destDir string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	dest := path.Join(destDir, filepath.Base(src))
	if err := c.stream(ctx, "cat > "+shellQuote(dest), f, nil); err != nil {
		return "", fmt.Errorf("failed to copy %s to %s:%s: %w", src, c.cfg.Host, dest, err)
	}
	c.logger.Debug().Str("src", src).Str("dest", dest).Msg("scp")
	return dest, nil
}

func (c *Client) stream(ctx context.Context, cmd string, in io.Reader, out io.Writer) error {
	session, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdin = in
	session.Stdout = out
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}
}

func withEnv(cmd string, env map[string]string) string {
	if len(env) == 0 {
		return cmd
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s;", k, env[k])
	}
	return b.String() + " " + cmd
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// lineLogger collects combined output and logs it line by line
type lineLogger struct {
	logger zerolog.Logger

	mu      sync.Mutex
	all     bytes.Buffer
	partial []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.all.Write(p)
	l.partial = append(l.partial, p...)

	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.logger.Debug().Str("out", strings.TrimRight(string(l.partial[:i]), "\r")).Msg("out")
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.partial) > 0 {
		l.logger.Debug().Str("out", strings.TrimSpace(string(l.partial))).Msg("out")
		l.partial = nil
	}
}

func (l *lineLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.all.String()
}
