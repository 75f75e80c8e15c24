// EBB serial port tests
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package serial

import (
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestBaudRateToSpeed(t *testing.T) {
	tests := []struct {
		baud int
		want uint32
	}{
		{9600, unix.B9600},
		{38400, unix.B38400},
		{115200, unix.B115200},
	}
	for _, tt := range tests {
		got, custom, err := baudRateToSpeed(tt.baud)
		if err != nil {
			t.Errorf("baudRateToSpeed(%d) error: %v", tt.baud, err)
			continue
		}
		if got != tt.want {
			t.Errorf("baudRateToSpeed(%d) = %#x, want %#x", tt.baud, got, tt.want)
		}
		if custom != 0 {
			t.Errorf("baudRateToSpeed(%d) customBaud = %d, want 0", tt.baud, custom)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", cfg.BaudRate)
	}
	if !cfg.DTROnConnect {
		t.Errorf("DTROnConnect = false, want true")
	}
}

// echoListener accepts one connection and answers version queries the
// way EBB firmware does.
func echoListener(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if strings.HasPrefix(string(buf[:n]), "V") {
				conn.Write([]byte("EBBv13_and_above EB Firmware Version 3.0.2\r\n"))
			}
		}
	}()
	return ln, ln.Addr().String()
}

func TestOpenTCPRoundTrip(t *testing.T) {
	ln, addr := echoListener(t)
	defer ln.Close()

	cfg := DefaultConfig("tcp:" + addr)
	port, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	if port.Device() != "tcp:"+addr {
		t.Errorf("Device() = %q, want %q", port.Device(), "tcp:"+addr)
	}
	if _, err := port.Write([]byte("V\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 128)
	n, err := port.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "EBB") {
		t.Errorf("response = %q, want EBB version string", string(buf[:n]))
	}
}

func TestTCPReadTimeout(t *testing.T) {
	ln, addr := echoListener(t)
	defer ln.Close()

	cfg := DefaultConfig("tcp:" + addr)
	cfg.ReadTimeout = 50 * time.Millisecond
	port, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	buf := make([]byte, 16)
	start := time.Now()
	_, err = port.Read(buf)
	if err != ErrTimeout {
		t.Errorf("Read error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Read blocked %v, want ~50ms", elapsed)
	}
}

func TestClosedPortRejectsIO(t *testing.T) {
	ln, addr := echoListener(t)
	defer ln.Close()

	port, err := Open(DefaultConfig("tcp:" + addr))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	port.Close()

	if _, err := port.Write([]byte("V\r")); err != ErrPortClosed {
		t.Errorf("Write error = %v, want ErrPortClosed", err)
	}
	if _, err := port.Read(make([]byte, 8)); err != ErrPortClosed {
		t.Errorf("Read error = %v, want ErrPortClosed", err)
	}
	if err := port.Close(); err != nil {
		t.Errorf("second Close error = %v, want nil", err)
	}
}

func TestProbeRecognizesEBB(t *testing.T) {
	ln, addr := echoListener(t)
	defer ln.Close()

	port, err := Open(DefaultConfig("tcp:" + addr))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	if !probe(port) {
		t.Errorf("probe() = false, want true for EBB responder")
	}
}

func TestIsDeviceAvailable(t *testing.T) {
	if IsDeviceAvailable("/nonexistent/device") {
		t.Errorf("IsDeviceAvailable(/nonexistent/device) = true, want false")
	}
	if !IsDeviceAvailable("tcp:localhost:1234") {
		t.Errorf("IsDeviceAvailable(tcp:...) = false, want true")
	}
}
