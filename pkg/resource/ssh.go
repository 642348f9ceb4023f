package resource

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
	"strconv"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"stagerun/pkg/executor/runner"
	"stagerun/pkg/staging"
)

const sshDialTimeout = 10 * time.Second

// SSHTransport reaches a remote resource over one multiplexed SSH connection.
// Directories travel as tar streams; commands run under the remote sh.
type SSHTransport struct {
	client *ssh.Client
	slots  chan struct{}
}

// DialSSH connects with public-key auth and verifies the host key against
// known_hosts.
func DialSSH(cfg Config) (*SSHTransport, error) {
	home, _ := os.UserHomeDir()
	keyFile := cfg.KeyFile
	if keyFile == "" {
		keyFile = filepath.Join(home, ".ssh", "id_rsa")
	}
	knownHosts := cfg.KnownHosts
	if knownHosts == "" {
		knownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	user := cfg.User
	if user == "" {
		user = os.Getenv("USER")
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}

	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	hostKeys, err := knownhosts.New(knownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         sshDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Host, err)
	}

	return newSSHTransport(client, cfg.Slots), nil
}

func newSSHTransport(client *ssh.Client, slots int) *SSHTransport {
	if slots <= 0 {
		slots = 1
	}
	return &SSHTransport{client: client, slots: make(chan struct{}, slots)}
}

// exec runs cmd in a fresh session. A cancelled ctx kills the remote command.
func (s *SSHTransport) exec(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var stderr bytes.Buffer
	sess.Stdin = stdin
	sess.Stdout = stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return ctx.Err()
	case err := <-done:
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("%w: %s", err, msg)
			}
			return err
		}
		return nil
	}
}

func q(s string) string { return shellescape.Quote(s) }

func (s *SSHTransport) Push(ctx context.Context, src, dst string, mode staging.Mode) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	var prep string
	if mode == staging.ModeItem {
		prep = "rm -rf " + q(dst) + " && "
	}

	if !info.IsDir() {
		if mode == staging.ModeContents {
			return 0, fmt.Errorf("contents mode needs a directory, %s is not one", src)
		}
		f, err := os.Open(src)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		cmd := prep + "mkdir -p " + q(path.Dir(dst)) + " && cat > " + q(dst)
		if err := s.exec(ctx, cmd, f, nil); err != nil {
			return 0, fmt.Errorf("push %s: %w", src, err)
		}
		return info.Size(), nil
	}

	pr, pw := io.Pipe()
	packed := make(chan int64, 1)
	go func() {
		n, err := staging.Pack(pw, src)
		pw.CloseWithError(err)
		packed <- n
	}()

	cmd := prep + "mkdir -p " + q(dst) + " && tar -xf - -C " + q(dst)
	err = s.exec(ctx, cmd, pr, nil)
	pr.CloseWithError(err)
	n := <-packed
	if err != nil {
		return 0, fmt.Errorf("push %s: %w", src, err)
	}
	return n, nil
}

func (s *SSHTransport) Pull(ctx context.Context, src, dst string, mode staging.Mode) (int64, error) {
	if err := s.Stat(ctx, src); err != nil {
		return 0, fmt.Errorf("pull %s: %w", src, err)
	}
	isDir := s.exec(ctx, "test -d "+q(src), nil, nil) == nil

	if mode == staging.ModeItem {
		if err := os.RemoveAll(dst); err != nil {
			return 0, fmt.Errorf("clear destination: %w", err)
		}
	}

	if !isDir {
		if mode == staging.ModeContents {
			return 0, fmt.Errorf("contents mode needs a directory, %s is not one", src)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return 0, err
		}
		f, err := os.Create(dst)
		if err != nil {
			return 0, err
		}
		cw := &countingWriter{w: f}
		err = s.exec(ctx, "cat "+q(src), nil, cw)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return cw.n, fmt.Errorf("pull %s: %w", src, err)
		}
		return cw.n, nil
	}

	pr, pw := io.Pipe()
	remote := make(chan error, 1)
	go func() {
		err := s.exec(ctx, "tar -cf - -C "+q(src)+" .", nil, pw)
		pw.CloseWithError(err)
		remote <- err
	}()

	n, err := staging.Unpack(pr, dst)
	pr.CloseWithError(err)
	if rerr := <-remote; err == nil && rerr != nil && !errors.Is(rerr, io.ErrClosedPipe) {
		err = rerr
	}
	if err != nil {
		return n, fmt.Errorf("pull %s: %w", src, err)
	}
	return n, nil
}

func (s *SSHTransport) Run(ctx context.Context, spec runner.Spec) runner.Result {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return runner.Result{ExitCode: -1, Error: ctx.Err()}
	}
	defer func() { <-s.slots }()

	start := time.Now()
	err := s.exec(ctx, remoteRunCommand(spec), nil, nil)
	res := runner.Result{Duration: time.Since(start), Error: err}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
		} else {
			res.ExitCode = -1
		}
	}
	return res
}

// remoteRunCommand builds the remote shell line for spec: create the capture
// directories, enter the work dir, then run the command under sh with its
// output redirected.
func remoteRunCommand(spec runner.Spec) string {
	stdout, stderr := spec.Stdout, spec.Stderr
	if stdout == "" {
		stdout = os.DevNull
	}
	if stderr == "" {
		stderr = os.DevNull
	}

	var b strings.Builder
	b.WriteString("mkdir -p " + q(path.Dir(stdout)) + " " + q(path.Dir(stderr)))
	b.WriteString(" && cd " + q(spec.WorkDir) + " && ")
	if len(spec.Env) > 0 {
		b.WriteString("env")
		for _, kv := range spec.Env {
			b.WriteString(" " + q(kv))
		}
		b.WriteString(" ")
	}
	b.WriteString("sh -c " + q(spec.Command) + " > " + q(stdout) + " 2> " + q(stderr))
	return b.String()
}

func (s *SSHTransport) Stat(ctx context.Context, p string) error {
	if err := s.exec(ctx, "test -e "+q(p), nil, nil); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s: %w", p, os.ErrNotExist)
		}
		return err
	}
	return nil
}

func (s *SSHTransport) MkdirAll(ctx context.Context, p string) error {
	if err := s.exec(ctx, "mkdir -p "+q(p), nil, nil); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (s *SSHTransport) ReadFile(ctx context.Context, p string) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.exec(ctx, "cat "+q(p), nil, &buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return buf.Bytes(), nil
}

func (s *SSHTransport) Close() error {
	return s.client.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
