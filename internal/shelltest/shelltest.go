// Package shelltest provides an in-process SSH server that emulates an
// interactive network-device CLI for testing: a PTY shell that prints a
// prompt, echoes commands, supports privileged-mode entry, and a
// configuration mode that alters the prompt.
package shelltest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"crypto/ed25519"
	"crypto/rand"

	"golang.org/x/crypto/ssh"
)

// CmdHandler returns the output the fake device prints for a command.
type CmdHandler func(cmd string) string

// DeviceConfig describes the emulated device.
type DeviceConfig struct {
	Hostname       string
	Password       string // account password accepted by the server
	EnablePassword string // non-empty: "enable" asks for this secret
	StartEnabled   bool   // start at the privileged "#" prompt
	ConfigEnter    string // command entering config mode (default "configure terminal")
	ConfigExit     string // command leaving config mode (default "end")
	Handler        CmdHandler
}

// Option configures the emulated device.
type Option func(*DeviceConfig)

// WithHostname sets the prompt hostname.
func WithHostname(name string) Option {
	return func(c *DeviceConfig) { c.Hostname = name }
}

// WithPassword sets the account password the server accepts.
func WithPassword(pw string) Option {
	return func(c *DeviceConfig) { c.Password = pw }
}

// WithEnablePassword makes "enable" prompt for the given secret.
func WithEnablePassword(pw string) Option {
	return func(c *DeviceConfig) { c.EnablePassword = pw }
}

// WithStartEnabled starts sessions at the privileged prompt.
func WithStartEnabled() Option {
	return func(c *DeviceConfig) { c.StartEnabled = true }
}

// WithHandler sets the command handler.
func WithHandler(h CmdHandler) Option {
	return func(c *DeviceConfig) { c.Handler = h }
}

// Start launches the emulated device. It returns the listener address and a
// cleanup function that shuts the server down.
func Start(t *testing.T, opts ...Option) (addr string, cleanup func()) {
	t.Helper()

	cfg := &DeviceConfig{
		Hostname:    "switch1",
		Password:    "secret",
		ConfigEnter: "configure terminal",
		ConfigExit:  "end",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	serverConf := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
	}
	serverConf.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleConnection(conn, serverConf, cfg)
		}
	}()

	return listener.Addr().String(), func() {
		listener.Close()
		<-done
	}
}

func handleConnection(conn net.Conn, config *ssh.ServerConfig, cfg *DeviceConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleSession(ch, requests, cfg)
	}
}

func handleSession(ch ssh.Channel, reqs <-chan *ssh.Request, cfg *DeviceConfig) {
	defer ch.Close()

	shell := make(chan struct{}, 1)
	go func() {
		for req := range reqs {
			switch req.Type {
			case "pty-req":
				req.Reply(true, nil)
			case "shell":
				req.Reply(true, nil)
				shell <- struct{}{}
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}()
	<-shell

	dev := &deviceState{cfg: cfg, enabled: cfg.StartEnabled}

	io.WriteString(ch, "Welcome to "+cfg.Hostname+"\r\n"+dev.prompt())

	scanner := bufio.NewScanner(ch)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		dev.dispatch(ch, line)
	}
}

// deviceState tracks the CLI mode of one emulated session.
type deviceState struct {
	cfg          *DeviceConfig
	enabled      bool
	inConfig     bool
	awaitingPass bool
}

func (d *deviceState) prompt() string {
	switch {
	case d.inConfig:
		return d.cfg.Hostname + "(config)#"
	case d.enabled:
		return d.cfg.Hostname + "#"
	default:
		return d.cfg.Hostname + ">"
	}
}

func (d *deviceState) dispatch(ch ssh.Channel, line string) {
	if d.awaitingPass {
		d.awaitingPass = false
		if line == d.cfg.EnablePassword {
			d.enabled = true
			io.WriteString(ch, "\r\n"+d.prompt())
		} else {
			io.WriteString(ch, "\r\n% Access denied\r\n"+d.prompt())
		}
		return
	}

	switch {
	case strings.TrimSpace(line) == "":
		io.WriteString(ch, "\r\n"+d.prompt())
	case line == "enable" && d.cfg.EnablePassword != "":
		d.awaitingPass = true
		io.WriteString(ch, "\r\nPassword: ")
	case line == "enable":
		d.enabled = true
		io.WriteString(ch, "\r\n"+d.prompt())
	case line == d.cfg.ConfigEnter:
		d.inConfig = true
		io.WriteString(ch, line+"\r\n"+d.prompt())
	case d.inConfig && (line == d.cfg.ConfigExit || line == "exit"):
		d.inConfig = false
		io.WriteString(ch, line+"\r\n"+d.prompt())
	default:
		out := line // echo by default, like a real PTY
		if d.cfg.Handler != nil {
			out = line + "\r\n" + strings.ReplaceAll(d.cfg.Handler(line), "\n", "\r\n")
		}
		io.WriteString(ch, out+"\r\n"+d.prompt())
	}
}

// ParseAddr splits an address into host and port.
func ParseAddr(t *testing.T, addr string) (host string, port int) {
	t.Helper()
	h, portStr, _ := net.SplitHostPort(addr)
	var p int
	fmt.Sscanf(portStr, "%d", &p)
	return h, p
}
