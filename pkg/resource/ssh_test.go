package resource

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"stagerun/pkg/executor/runner"
	"stagerun/pkg/staging"
)

func TestRemoteRunCommand(t *testing.T) {
	tests := []struct {
		name string
		spec runner.Spec
		want string
	}{
		{
			name: "captured output",
			spec: runner.Spec{Command: "echo hi", WorkDir: "/w", Stdout: "/w/log/std.out", Stderr: "/w/log/std.err"},
			want: "mkdir -p /w/log /w/log && cd /w && sh -c 'echo hi' > /w/log/std.out 2> /w/log/std.err",
		},
		{
			name: "discarded output",
			spec: runner.Spec{Command: "true", WorkDir: "/w"},
			want: "mkdir -p /dev /dev && cd /w && sh -c true > /dev/null 2> /dev/null",
		},
		{
			name: "environment and quoting",
			spec: runner.Spec{Command: "echo $A", WorkDir: "/my dir", Env: []string{"A=x y"}},
			want: "mkdir -p /dev /dev && cd '/my dir' && env 'A=x y' sh -c 'echo $A' > /dev/null 2> /dev/null",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, remoteRunCommand(tt.spec))
		})
	}
}

// startSSHServer serves exec requests by running them under the local sh.
func startSSHServer(t *testing.T) *SSHTransport {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()

	client, err := ssh.Dial("tcp", ln.Addr().String(), &ssh.ClientConfig{
		User:            "stagerun",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	require.NoError(t, err)
	tr := newSSHTransport(client, 2)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, in, err := nc.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, in)
	}
}

func serveSession(ch ssh.Channel, in <-chan *ssh.Request) {
	defer ch.Close()
	for req := range in {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)

		cmd := exec.Command("sh", "-c", payload.Command)
		cmd.Stdin = ch
		cmd.Stdout = ch
		cmd.Stderr = ch.Stderr()
		var status uint32
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				status = uint32(exitErr.ExitCode())
			} else {
				status = 255
			}
		}
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

func requireTar(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not on PATH")
	}
}

func writeFile(t *testing.T, p, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
}

func TestSSHTransport_StatMissingPath(t *testing.T) {
	tr := startSSHServer(t)
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, tr.Stat(ctx, dir))
	err := tr.Stat(ctx, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSSHTransport_RunCapturesOutputAndExitCode(t *testing.T) {
	tr := startSSHServer(t)
	dir := t.TempDir()
	stdout := filepath.Join(dir, "logs", "std.out")
	stderr := filepath.Join(dir, "logs", "std.err")

	res := tr.Run(context.Background(), runner.Spec{
		Command: "echo $GREETING; pwd; echo oops >&2; exit 3",
		WorkDir: dir,
		Stdout:  stdout,
		Stderr:  stderr,
		Env:     []string{"GREETING=hello there"},
	})
	assert.Equal(t, 3, res.ExitCode)
	assert.Error(t, res.Error)

	out, err := os.ReadFile(stdout)
	require.NoError(t, err)
	assert.Equal(t, "hello there\n"+dir+"\n", string(out))
	errOut, err := os.ReadFile(stderr)
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(errOut))

	res = tr.Run(context.Background(), runner.Spec{Command: "true", WorkDir: dir})
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.Error)
}

func TestSSHTransport_FileRoundTrip(t *testing.T) {
	tr := startSSHServer(t)
	local, remote := t.TempDir(), t.TempDir()
	ctx := context.Background()

	src := filepath.Join(local, "in.txt")
	writeFile(t, src, "payload\n")

	dst := filepath.Join(remote, "nested", "in.txt")
	n, err := tr.Push(ctx, src, dst, staging.ModeItem)
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload\n")), n)

	data, err := tr.ReadFile(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, "payload\n", string(data))

	back := filepath.Join(local, "out", "in.txt")
	n, err = tr.Pull(ctx, dst, back, staging.ModeItem)
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload\n")), n)
	got, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "payload\n", string(got))

	_, err = tr.Push(ctx, src, remote, staging.ModeContents)
	assert.Error(t, err)
}

func TestSSHTransport_PushDirectoryModes(t *testing.T) {
	requireTar(t)
	tr := startSSHServer(t)
	local, remote := t.TempDir(), t.TempDir()
	ctx := context.Background()

	src := filepath.Join(local, "data")
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "b")

	item := filepath.Join(remote, "item")
	writeFile(t, filepath.Join(item, "stale.txt"), "old")
	_, err := tr.Push(ctx, src, item, staging.ModeItem)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(item, "a.txt"))
	assert.FileExists(t, filepath.Join(item, "sub", "b.txt"))
	assert.NoFileExists(t, filepath.Join(item, "stale.txt"))

	contents := filepath.Join(remote, "contents")
	writeFile(t, filepath.Join(contents, "keep.txt"), "keep")
	_, err = tr.Push(ctx, src, contents, staging.ModeContents)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(contents, "a.txt"))
	assert.FileExists(t, filepath.Join(contents, "sub", "b.txt"))
	assert.FileExists(t, filepath.Join(contents, "keep.txt"))
}

func TestSSHTransport_PullDirectoryModes(t *testing.T) {
	requireTar(t)
	tr := startSSHServer(t)
	local, remote := t.TempDir(), t.TempDir()
	ctx := context.Background()

	src := filepath.Join(remote, "results")
	writeFile(t, filepath.Join(src, "r.txt"), "result")
	writeFile(t, filepath.Join(src, "deep", "s.txt"), "more")

	item := filepath.Join(local, "item")
	writeFile(t, filepath.Join(item, "stale.txt"), "old")
	_, err := tr.Pull(ctx, src, item, staging.ModeItem)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(item, "r.txt"))
	require.NoError(t, err)
	assert.Equal(t, "result", string(data))
	assert.FileExists(t, filepath.Join(item, "deep", "s.txt"))
	assert.NoFileExists(t, filepath.Join(item, "stale.txt"))

	contents := filepath.Join(local, "contents")
	writeFile(t, filepath.Join(contents, "keep.txt"), "keep")
	_, err = tr.Pull(ctx, src, contents, staging.ModeContents)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(contents, "r.txt"))
	assert.FileExists(t, filepath.Join(contents, "keep.txt"))

	_, err = tr.Pull(ctx, filepath.Join(remote, "absent"), filepath.Join(local, "absent"), staging.ModeItem)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
