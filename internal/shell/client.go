// Package shell opens and drives interactive SSH sessions against network
// devices. Unlike exec-style SSH, device CLIs are a single stateful shell:
// every command is written to one PTY channel and output is read until the
// device prompt comes back. The package also performs privileged-mode entry
// and exposes the configuration-mode primitives the runner builds on.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	sshconfig "github.com/kevinburke/ssh_config"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/mindwolf80/nice/internal/device"
)

// Timeouts bounds every blocking step of a session. Zero fields fall back
// to the defaults below.
type Timeouts struct {
	PortCheck time.Duration // TCP reachability precheck
	Connect   time.Duration // SSH dial, handshake, and banner drain
	Command   time.Duration // per-command read
}

const (
	defaultPortCheckTimeout = 3 * time.Second
	defaultConnectTimeout   = 30 * time.Second
	defaultCommandTimeout   = 120 * time.Second
)

func (t Timeouts) withDefaults() Timeouts {
	if t.PortCheck <= 0 {
		t.PortCheck = defaultPortCheckTimeout
	}
	if t.Connect <= 0 {
		t.Connect = defaultConnectTimeout
	}
	if t.Command <= 0 {
		t.Command = defaultCommandTimeout
	}
	return t
}

// promptRE matches the tail of device output once the CLI is ready for the
// next command. Covers Cisco-style #/>, Unix $, and bracketed prompts.
var promptRE = regexp.MustCompile(`[#>$\]][ \t]*$`)

// passwordPromptRE matches the secret prompt printed during privileged-mode
// entry.
var passwordPromptRE = regexp.MustCompile(`(?i)password[^\n]*[:：][ \t]*$`)

// Client is one live interactive session to one device. A Client is owned
// by a single device task and must not be shared across goroutines.
type Client struct {
	target   device.Target
	spec     device.Spec
	timeouts Timeouts
	log      *zap.Logger

	conn    *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	chunks  chan []byte
	pending bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the target, opens a PTY shell, drains the login banner,
// and performs privileged-mode entry when the dialect requires it. Failures
// are returned as *ConnectError with the kind the retry policy needs.
func Dial(ctx context.Context, target device.Target, timeouts Timeouts, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	timeouts = timeouts.withDefaults()

	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", resolvePort(target)))

	// Fail fast on unreachable hosts instead of waiting out the full
	// protocol timeout for every retry attempt.
	probe, err := net.DialTimeout("tcp", addr, timeouts.PortCheck)
	if err != nil {
		log.Debug("port precheck failed", zap.String("host", target.Host), zap.Error(err))
		return nil, wrapConnectError(target.Host, KindUnreachable, err)
	}
	probe.Close()

	conf := &ssh.ClientConfig{
		User: resolveUser(target),
		Auth: []ssh.AuthMethod{
			ssh.Password(target.Password),
			ssh.KeyboardInteractive(passwordOnlyChallenge(target.Password)),
		},
		// Network devices rarely have distributable host keys; identity is
		// established by the operator-supplied inventory.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeouts.Connect,
		BannerCallback:  func(string) error { return nil },
	}

	conn, err := ssh.Dial("tcp", addr, conf)
	if err != nil {
		return nil, classifyDialError(target.Host, err)
	}

	c := &Client{
		target:   target,
		spec:     target.Dialect.Spec(),
		timeouts: timeouts,
		log:      log.With(zap.String("host", target.Host)),
		conn:     conn,
	}

	if err := c.openShell(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if c.spec.RequiresEnable {
		if err := c.enable(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

// openShell requests a PTY, starts the remote shell, and reads up to the
// first prompt.
func (c *Client) openShell(ctx context.Context) error {
	session, err := c.conn.NewSession()
	if err != nil {
		return classifyDialError(c.target.Host, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty("vt100", 40, 200, modes); err != nil {
		session.Close()
		return wrapConnectError(c.target.Host, KindTransport, fmt.Errorf("request pty: %w", err))
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return wrapConnectError(c.target.Host, KindTransport, fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return wrapConnectError(c.target.Host, KindTransport, fmt.Errorf("stdout pipe: %w", err))
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return wrapConnectError(c.target.Host, KindTransport, fmt.Errorf("start shell: %w", err))
	}

	c.session = session
	c.stdin = stdin
	c.chunks = make(chan []byte, 16)

	go func() {
		defer close(c.chunks)
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				c.chunks <- chunk
			}
			if err != nil {
				return
			}
		}
	}()

	// Login banner and MOTD end at the first prompt.
	if _, err := c.readUntil(ctx, promptRE, c.timeouts.Connect); err != nil {
		return wrapConnectError(c.target.Host, KindTimeout, fmt.Errorf("waiting for initial prompt: %w", err))
	}
	return nil
}

// enable performs privileged-mode entry using the dialect's elevation
// command and the target's enable secret.
func (c *Client) enable(ctx context.Context) error {
	secret := c.target.EnableSecret
	if secret == "" {
		secret = c.target.Password
	}

	if err := c.writeLine(c.spec.EnableCommand); err != nil {
		return wrapConnectError(c.target.Host, KindTransport, err)
	}
	out, err := c.readUntil(ctx, passwordPromptRE, c.timeouts.Command)
	if err != nil {
		// Some devices elevate without asking; accept if a prompt came back.
		if promptRE.MatchString(strings.TrimRight(out, "\r\n")) {
			return nil
		}
		return wrapConnectError(c.target.Host, KindAuth, fmt.Errorf("privileged-mode entry: %w", err))
	}
	if err := c.writeLine(secret); err != nil {
		return wrapConnectError(c.target.Host, KindTransport, err)
	}
	out, err = c.readUntil(ctx, promptRE, c.timeouts.Command)
	if err != nil {
		return wrapConnectError(c.target.Host, KindAuth, fmt.Errorf("privileged-mode entry: %w", err))
	}
	if !strings.Contains(lastLine(out), "#") {
		return wrapConnectError(c.target.Host, KindAuth,
			fmt.Errorf("device did not enter privileged mode"))
	}
	c.log.Debug("entered privileged mode")
	return nil
}

// Host returns the host the client is connected to.
func (c *Client) Host() string {
	return c.target.Host
}

// Send writes one command to the shell and reads output until the device
// prompt returns. The echoed command line is stripped from the output.
func (c *Client) Send(ctx context.Context, command string) (string, error) {
	if err := c.writeLine(command); err != nil {
		return "", &CommandError{Host: c.target.Host, Command: command, Err: err}
	}
	out, err := c.readUntil(ctx, promptRE, c.timeouts.Command)
	if err != nil {
		if err == errReadTimeout {
			return out, &CommandError{Host: c.target.Host, Command: command, Timeout: true, Err: err}
		}
		return out, &CommandError{Host: c.target.Host, Command: command, Err: err}
	}
	return stripEcho(out, command), nil
}

// SendBatch submits the commands as one configuration batch, returning the
// combined output of the whole submission.
func (c *Client) SendBatch(ctx context.Context, commands []string) (string, error) {
	var combined strings.Builder
	for _, cmd := range commands {
		out, err := c.Send(ctx, cmd)
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(out)
		if err != nil {
			return combined.String(), err
		}
	}
	return combined.String(), nil
}

// InConfigMode reports whether the session currently shows the dialect's
// configuration-mode prompt. It nudges the shell with an empty line to
// refresh the prompt.
func (c *Client) InConfigMode(ctx context.Context) (bool, error) {
	if !c.spec.SupportsConfigMode {
		return false, nil
	}
	if err := c.writeLine(""); err != nil {
		return false, &CommandError{Host: c.target.Host, Command: "", Err: err}
	}
	out, err := c.readUntil(ctx, promptRE, c.timeouts.Command)
	if err != nil {
		return false, &CommandError{Host: c.target.Host, Command: "", Err: err}
	}
	return strings.Contains(lastLine(out), c.spec.ConfigPromptMark), nil
}

// EnterConfigMode issues the dialect's configuration-mode entry command.
func (c *Client) EnterConfigMode(ctx context.Context) error {
	if !c.spec.SupportsConfigMode {
		return fmt.Errorf("%s: dialect %s has no configuration mode", c.target.Host, c.target.Dialect)
	}
	_, err := c.Send(ctx, c.spec.ConfigEnter)
	return err
}

// ExitConfigMode issues the dialect's configuration-mode exit command.
func (c *Client) ExitConfigMode(ctx context.Context) error {
	_, err := c.Send(ctx, c.spec.ConfigExit)
	return err
}

// Close releases the session and connection. It is idempotent and safe to
// call from the run's abort path while a command is in flight.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.session != nil {
			c.session.Close()
		}
		if c.conn != nil {
			c.closeErr = c.conn.Close()
		}
		c.log.Debug("session closed")
	})
	return c.closeErr
}

// errReadTimeout marks an expired per-command read deadline.
var errReadTimeout = fmt.Errorf("read timed out waiting for prompt")

// readUntil accumulates shell output until the pattern matches the tail of
// the buffer, the timeout expires, or ctx is cancelled. Accumulated output
// is returned in all cases so callers can log partial reads.
func (c *Client) readUntil(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if pattern.MatchString(c.pending.String()) {
		out := c.pending.String()
		c.pending.Reset()
		return out, nil
	}

	for {
		select {
		case chunk, ok := <-c.chunks:
			if !ok {
				out := c.pending.String()
				c.pending.Reset()
				return out, fmt.Errorf("session closed by remote")
			}
			c.pending.Write(chunk)
			if pattern.MatchString(c.pending.String()) {
				out := c.pending.String()
				c.pending.Reset()
				return out, nil
			}
		case <-deadline.C:
			out := c.pending.String()
			c.pending.Reset()
			return out, errReadTimeout
		case <-ctx.Done():
			out := c.pending.String()
			c.pending.Reset()
			return out, ctx.Err()
		}
	}
}

func (c *Client) writeLine(s string) error {
	_, err := c.stdin.Write([]byte(s + "\n"))
	return err
}

// stripEcho drops the leading echoed command line and the trailing prompt
// line from raw shell output.
func stripEcho(out, command string) string {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == strings.TrimSpace(command) {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && promptRE.MatchString(lines[n-1]) {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

func lastLine(s string) string {
	s = strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func resolvePort(t device.Target) int {
	if t.Port != 0 {
		return t.Port
	}
	if portStr := sshconfig.Get(t.Host, "Port"); portStr != "" {
		var port int
		fmt.Sscanf(portStr, "%d", &port)
		if port != 0 {
			return port
		}
	}
	return 22
}

func resolveUser(t device.Target) string {
	if t.Username != "" {
		return t.Username
	}
	return sshconfig.Get(t.Host, "User")
}

// passwordOnlyChallenge answers every keyboard-interactive question with the
// account password, which is how most device SSH stacks phrase password auth.
func passwordOnlyChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}
