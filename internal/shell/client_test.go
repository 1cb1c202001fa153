package shell_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mindwolf80/nice/internal/device"
	"github.com/mindwolf80/nice/internal/shell"
	"github.com/mindwolf80/nice/internal/shelltest"
)

func testTimeouts() shell.Timeouts {
	return shell.Timeouts{
		PortCheck: 2 * time.Second,
		Connect:   5 * time.Second,
		Command:   5 * time.Second,
	}
}

func dialTestDevice(t *testing.T, addr string, dialect device.Dialect, password string) *shell.Client {
	t.Helper()
	host, port := shelltest.ParseAddr(t, addr)
	client, err := shell.Dial(context.Background(), device.Target{
		Host:     host,
		Port:     port,
		Dialect:  dialect,
		Username: "admin",
		Password: password,
	}, testTimeouts(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return client
}

func TestDial_SendCommand(t *testing.T) {
	addr, cleanup := shelltest.Start(t,
		shelltest.WithStartEnabled(),
		shelltest.WithHandler(func(cmd string) string {
			if cmd == "show version" {
				return "Cisco IOS Software, Version 15.2"
			}
			return "% Invalid input detected"
		}),
	)
	defer cleanup()

	client := dialTestDevice(t, addr, device.DialectCiscoIOS, "secret")
	defer client.Close()

	out, err := client.Send(context.Background(), "show version")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "Cisco IOS Software") {
		t.Errorf("output = %q, want version string", out)
	}
	if strings.Contains(out, "show version") {
		t.Errorf("output still contains the command echo: %q", out)
	}
}

func TestDial_AuthFailure(t *testing.T) {
	addr, cleanup := shelltest.Start(t, shelltest.WithPassword("rightpw"))
	defer cleanup()

	host, port := shelltest.ParseAddr(t, addr)
	_, err := shell.Dial(context.Background(), device.Target{
		Host:     host,
		Port:     port,
		Dialect:  device.DialectCiscoIOS,
		Username: "admin",
		Password: "wrongpw",
	}, testTimeouts(), nil)
	if err == nil {
		t.Fatal("expected auth error")
	}
	var ce *shell.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectError, got %T: %v", err, err)
	}
	if ce.Kind != shell.KindAuth {
		t.Errorf("kind = %v, want KindAuth", ce.Kind)
	}
}

func TestDial_PortUnreachable(t *testing.T) {
	// A closed port on loopback refuses immediately.
	_, err := shell.Dial(context.Background(), device.Target{
		Host:     "127.0.0.1",
		Port:     1, // nothing listens here
		Dialect:  device.DialectLinux,
		Username: "admin",
		Password: "pw",
	}, shell.Timeouts{PortCheck: time.Second, Connect: 2 * time.Second, Command: time.Second}, nil)
	if err == nil {
		t.Fatal("expected unreachable error")
	}
	var ce *shell.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectError, got %T: %v", err, err)
	}
	if ce.Kind != shell.KindUnreachable {
		t.Errorf("kind = %v, want KindUnreachable", ce.Kind)
	}
}

func TestDial_EnableSequence(t *testing.T) {
	addr, cleanup := shelltest.Start(t, shelltest.WithEnablePassword("enablepw"))
	defer cleanup()

	host, port := shelltest.ParseAddr(t, addr)
	client, err := shell.Dial(context.Background(), device.Target{
		Host:         host,
		Port:         port,
		Dialect:      device.DialectCiscoASA,
		Username:     "admin",
		Password:     "secret",
		EnableSecret: "enablepw",
	}, testTimeouts(), nil)
	if err != nil {
		t.Fatalf("dial with enable: %v", err)
	}
	defer client.Close()

	// After elevation commands run at the privileged prompt.
	if _, err := client.Send(context.Background(), "show running-config"); err != nil {
		t.Errorf("send after enable: %v", err)
	}
}

func TestConfigMode_EnterAndExit(t *testing.T) {
	addr, cleanup := shelltest.Start(t, shelltest.WithStartEnabled())
	defer cleanup()

	client := dialTestDevice(t, addr, device.DialectCiscoIOS, "secret")
	defer client.Close()

	ctx := context.Background()
	in, err := client.InConfigMode(ctx)
	if err != nil {
		t.Fatalf("InConfigMode: %v", err)
	}
	if in {
		t.Fatal("fresh session should not be in config mode")
	}

	if err := client.EnterConfigMode(ctx); err != nil {
		t.Fatalf("EnterConfigMode: %v", err)
	}
	in, err = client.InConfigMode(ctx)
	if err != nil {
		t.Fatalf("InConfigMode after enter: %v", err)
	}
	if !in {
		t.Fatal("expected config mode after enter")
	}

	if err := client.ExitConfigMode(ctx); err != nil {
		t.Fatalf("ExitConfigMode: %v", err)
	}
	in, err = client.InConfigMode(ctx)
	if err != nil {
		t.Fatalf("InConfigMode after exit: %v", err)
	}
	if in {
		t.Fatal("expected config mode exited")
	}
}

func TestClose_Idempotent(t *testing.T) {
	addr, cleanup := shelltest.Start(t)
	defer cleanup()

	client := dialTestDevice(t, addr, device.DialectLinux, "secret")
	if err := client.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	// Second close must not panic and reports the same outcome.
	client.Close()
	client.Close()
}

func TestSend_Timeout(t *testing.T) {
	addr, cleanup := shelltest.Start(t,
		shelltest.WithStartEnabled(),
		shelltest.WithHandler(func(cmd string) string {
			if cmd == "hang" {
				time.Sleep(2 * time.Second)
			}
			return "ok"
		}),
	)
	defer cleanup()

	host, port := shelltest.ParseAddr(t, addr)
	client, err := shell.Dial(context.Background(), device.Target{
		Host:     host,
		Port:     port,
		Dialect:  device.DialectLinux,
		Username: "admin",
		Password: "secret",
	}, shell.Timeouts{PortCheck: time.Second, Connect: 5 * time.Second, Command: 500 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	_, err = client.Send(context.Background(), "hang")
	var cmdErr *shell.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T: %v", err, err)
	}
	if !cmdErr.Timeout {
		t.Error("expected timeout flag on command error")
	}
}
