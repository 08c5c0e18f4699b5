package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/panda/pkg/errdefs"
)

// testServer is an SSH server that answers every exec request with the
// command it received and the stdin it read. Commands starting with "cat >"
// store stdin as a file; "cat <path>" returns a stored file; "exit N" exits
// with status N.
type testServer struct {
	addr string

	mu    sync.Mutex
	files map[string][]byte
	cmds  []string
}

func newTestServer(t *testing.T, password string) *testServer {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("bad password")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	s := &testServer{addr: ln.Addr().String(), files: make(map[string][]byte)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, cfg)
		}
	}()
	return s
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, requests)
	}
}

func (s *testServer) session(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		_ = ssh.Unmarshal(req.Payload, &payload)
		_ = req.Reply(true, nil)

		stdin, _ := io.ReadAll(ch)
		status := s.exec(payload.Command, stdin, ch)
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}

func (s *testServer) exec(cmd string, stdin []byte, out io.Writer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)

	switch {
	case strings.HasPrefix(cmd, "cat > "):
		s.files[strings.Trim(strings.TrimPrefix(cmd, "cat > "), "'")] = stdin
		return 0
	case strings.HasPrefix(cmd, "cat "):
		data, ok := s.files[strings.Trim(strings.TrimPrefix(cmd, "cat "), "'")]
		if !ok {
			fmt.Fprintln(out, "No such file")
			return 1
		}
		_, _ = out.Write(data)
		return 0
	case strings.HasPrefix(cmd, "exit "):
		n, _ := strconv.Atoi(strings.TrimPrefix(cmd, "exit "))
		fmt.Fprintf(out, "exiting %d\n", n)
		return n
	}
	fmt.Fprintf(out, "cmd=%s\nstdin=%q\n", cmd, string(stdin))
	return 0
}

func newTestClient(t *testing.T, s *testServer, user, password string) *Client {
	host, port, err := net.SplitHostPort(s.addr)
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)

	c := NewClient(Config{Host: host, Port: p, User: user, Password: password})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRunSudoFeedsPassword(t *testing.T) {
	s := newTestServer(t, "vmware")
	c := newTestClient(t, s, "viouser", "vmware")

	res, err := c.Run(context.Background(), "viopatch list", Options{Sudo: true, Input: "Y"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitStatus)
	assert.Contains(t, res.Output, "cmd=sudo -S -p '' viopatch list")
	assert.Contains(t, res.Output, `stdin="vmware\nY\n"`)
}

func TestRunAsRootSkipsSudo(t *testing.T) {
	s := newTestServer(t, "vmware")
	c := newTestClient(t, s, "root", "vmware")

	res, err := c.Run(context.Background(), "restart oms", Options{Sudo: true})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "cmd=restart oms\n")
}

func TestRunEnv(t *testing.T) {
	s := newTestServer(t, "pw")
	c := newTestClient(t, s, "viouser", "pw")

	res, err := c.Run(context.Background(), "env", Options{Env: map[string]string{"B": "2", "A": "1"}})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "cmd=export A=1;export B=2; env")
}

func TestRunExitStatus(t *testing.T) {
	s := newTestServer(t, "pw")
	c := newTestClient(t, s, "viouser", "pw")
	ctx := context.Background()

	res, err := c.Run(ctx, "exit 3", Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitStatus)
	assert.Equal(t, "exiting 3\n", res.Output)

	res, err = c.Run(ctx, "exit 2", Options{RaiseOnError: true})
	assert.ErrorIs(t, err, errdefs.ErrRemote)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.ExitStatus)

	_, err = c.Output(ctx, "exit 1")
	var remoteErr *errdefs.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 1, remoteErr.ExitStatus)
}

func TestCopyFile(t *testing.T) {
	s := newTestServer(t, "pw")
	c := newTestClient(t, s, "viouser", "pw")

	src := filepath.Join(t.TempDir(), "vio-patch-201_2.0.1.1234_all.deb")
	require.NoError(t, os.WriteFile(src, []byte("debian package"), 0o644))

	dest, err := c.CopyFile(context.Background(), src, "/tmp")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/vio-patch-201_2.0.1.1234_all.deb", dest)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "debian package", string(s.files[dest]))
}

func TestRunReconnectsAfterConnectionLoss(t *testing.T) {
	s := newTestServer(t, "pw")
	c := newTestClient(t, s, "viouser", "pw")
	ctx := context.Background()

	_, err := c.Run(ctx, "viopatch list", Options{})
	require.NoError(t, err)

	c.mu.Lock()
	dead := c.client
	c.mu.Unlock()
	require.NoError(t, dead.Close())

	res, err := c.Run(ctx, "viopatch list", Options{})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "cmd=viopatch list")
	assert.NotSame(t, dead, c.client)

	src := filepath.Join(t.TempDir(), "vio-upgrade-300_3.0.0_all.deb")
	require.NoError(t, os.WriteFile(src, []byte("upgrade"), 0o644))
	require.NoError(t, c.client.Close())
	_, err = c.CopyFile(ctx, src, "/tmp")
	require.NoError(t, err)
}

func TestBadPassword(t *testing.T) {
	s := newTestServer(t, "right")
	c := newTestClient(t, s, "viouser", "wrong")

	_, err := c.Run(context.Background(), "true", Options{})
	assert.Error(t, err)
}
