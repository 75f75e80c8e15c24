// EBB serial port
//
// USB serial connection to the EBB motion controller. The EBB
// enumerates as a USB CDC ACM device, so the configured baud rate is
// nominal; the raw-mode termios setup and poll-based reads are what
// matter. A TCP transport is also supported for driving an EBB
// emulator during development.
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package serial

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"plotdrive/pkg/log"
)

var logger = log.GetLogger("serial")

// Errors returned by this package.
var (
	ErrPortClosed  = fmt.Errorf("serial port is closed")
	ErrTimeout     = fmt.Errorf("serial read timeout")
	ErrNoDevice    = fmt.Errorf("no EBB device found")
	ErrOpenFailed  = fmt.Errorf("failed to open serial port")
	ErrSetupFailed = fmt.Errorf("failed to configure serial port")
)

// Config holds serial port configuration.
type Config struct {
	// Device path, e.g. /dev/ttyACM0, or "tcp:host:port" for an
	// emulator. Empty means scan for a device.
	Device string

	// BaudRate is nominal for USB CDC and ignored by the EBB
	// firmware, but the termios layer still wants a value.
	// Defaults to 9600.
	BaudRate int

	// ConnectTimeout bounds device scanning in Detect.
	ConnectTimeout time.Duration

	// ReadTimeout is the per-Read timeout. Zero blocks forever.
	ReadTimeout time.Duration

	// Assert modem control lines on connect. Some CDC stacks
	// require DTR before the device will transmit.
	RTSOnConnect bool
	DTROnConnect bool
}

// DefaultConfig returns a Config suitable for a directly attached EBB.
func DefaultConfig(device string) Config {
	return Config{
		Device:         device,
		BaudRate:       9600,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    2 * time.Second,
		DTROnConnect:   true,
	}
}

// Port is an open connection to the controller.
type Port struct {
	mu         sync.Mutex
	fd         int
	conn       net.Conn
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
}

// devicePatterns are the globs scanned when no device is configured.
// The EBB's CDC interface lands on ttyACM under Linux and usbmodem
// under macOS; the USB-adapter patterns cover old boards behind
// converters.
var devicePatterns = []string{
	"/dev/ttyACM*",
	"/dev/cu.usbmodem*",
	"/dev/ttyUSB*",
	"/dev/cu.usbserial*",
	"/dev/serial/by-id/*",
}

// ListPorts returns candidate device paths, ACM devices first.
func ListPorts() []string {
	var ports []string
	seen := make(map[string]bool)
	for _, pattern := range devicePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				resolved = m
			}
			if !seen[resolved] {
				seen[resolved] = true
				ports = append(ports, resolved)
			}
		}
	}
	return ports
}

// Open opens the configured device. For "tcp:" devices it dials the
// emulator; otherwise it opens the tty and places it in raw mode.
func Open(config Config) (*Port, error) {
	if config.BaudRate == 0 {
		config.BaudRate = 9600
	}
	if strings.HasPrefix(config.Device, "tcp:") {
		return OpenTCP(strings.TrimPrefix(config.Device, "tcp:"), config)
	}

	fd, err := unix.Open(config.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpenFailed, config.Device, err)
	}

	port := &Port{
		fd:     fd,
		device: config.Device,
		config: config,
	}

	if err := port.configure(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if config.RTSOnConnect {
		if err := port.SetRTS(true); err != nil {
			logger.Debug("set RTS on %s: %v", config.Device, err)
		}
	}
	if config.DTROnConnect {
		if err := port.SetDTR(true); err != nil {
			logger.Debug("set DTR on %s: %v", config.Device, err)
		}
	}

	logger.Info("Opened %s", config.Device)
	return port, nil
}

// OpenTCP connects to an EBB emulator listening on addr ("host:port").
func OpenTCP(addr string, config Config) (*Port, error) {
	conn, err := net.DialTimeout("tcp", addr, config.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: tcp %s: %v", ErrOpenFailed, addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	logger.Info("Connected to emulator at %s", addr)
	return &Port{
		fd:     -1,
		conn:   conn,
		device: "tcp:" + addr,
		config: config,
	}, nil
}

// configure puts the tty in raw 8N1 mode and saves the previous
// settings for restoration on Close.
func (p *Port) configure() error {
	termios, err := unix.IoctlGetTermios(p.fd, ioctlGetTermios)
	if err != nil {
		return fmt.Errorf("%w: get termios: %v", ErrSetupFailed, err)
	}
	saved := *termios
	p.oldTermios = &saved

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// Non-blocking reads; timeouts are handled with poll.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := p.setBaudRate(termios, p.config.BaudRate); err != nil {
		return err
	}

	if err := unix.IoctlSetTermios(p.fd, ioctlSetTermios, termios); err != nil {
		return fmt.Errorf("%w: set termios: %v", ErrSetupFailed, err)
	}

	// Clear any stale controller output from before we attached.
	p.Flush()
	return nil
}

// setBaudRate applies the requested rate to the termios struct. The
// EBB ignores the rate entirely, but a sane value keeps USB-serial
// adapters happy.
func (p *Port) setBaudRate(termios *unix.Termios, baud int) error {
	speed, customBaud, err := baudRateToSpeed(baud)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	setSpeed(termios, speed)
	if customBaud > 0 {
		if err := setCustomBaudRate(p.fd, customBaud); err != nil {
			return fmt.Errorf("%w: custom baud %d: %v", ErrSetupFailed, customBaud, err)
		}
	}
	return nil
}

// baudRateToSpeed converts a baud rate to a speed constant.
// customBaud > 0 means the rate must be applied with IOSSIOSPEED
// after the termios settings take effect.
func baudRateToSpeed(baud int) (speed uint32, customBaud int, err error) {
	speeds := map[int]uint32{
		300:    unix.B300,
		600:    unix.B600,
		1200:   unix.B1200,
		2400:   unix.B2400,
		4800:   unix.B4800,
		9600:   unix.B9600,
		19200:  unix.B19200,
		38400:  unix.B38400,
		57600:  unix.B57600,
		115200: unix.B115200,
		230400: unix.B230400,
	}
	if s, ok := speeds[baud]; ok {
		return s, 0, nil
	}
	if runtime.GOOS == "linux" {
		// BOTHER accepts arbitrary rates.
		return 0x1000 | uint32(baud), 0, nil
	}
	if runtime.GOOS == "darwin" {
		return unix.B9600, baud, nil
	}
	return 0, 0, fmt.Errorf("unsupported baud rate %d", baud)
}

// setCustomBaudRate sets a non-standard baud rate on macOS.
func setCustomBaudRate(fd int, baud int) error {
	// IOSSIOSPEED: _IOW('T', 2, speed_t)
	const IOSSIOSPEED = 0x80045402
	return unix.IoctlSetPointerInt(fd, IOSSIOSPEED, baud)
}

// Read reads available bytes, waiting up to the configured
// ReadTimeout. Returns ErrTimeout if nothing arrives in time.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	conn := p.conn
	timeout := p.config.ReadTimeout
	p.mu.Unlock()

	if closed {
		return 0, ErrPortClosed
	}
	if conn != nil {
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return n, ErrTimeout
			}
			return n, err
		}
		return n, nil
	}

	if timeout > 0 {
		pollFds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pollFds, int(timeout.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				return 0, ErrTimeout
			}
			return 0, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return 0, ErrTimeout
		}
	}

	for {
		n, err := unix.Read(p.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, ErrTimeout
		}
		if err != nil {
			return 0, fmt.Errorf("read: %w", err)
		}
		return n, nil
	}
}

// Write writes all of buf to the port.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	conn := p.conn
	p.mu.Unlock()

	if closed {
		return 0, ErrPortClosed
	}
	if conn != nil {
		return conn.Write(buf)
	}

	written := 0
	for written < len(buf) {
		n, err := unix.Write(p.fd, buf[written:])
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("write: %w", err)
		}
		written += n
	}
	return written, nil
}

// Close closes the port, restoring the original termios settings
// on a real tty.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.conn != nil {
		return p.conn.Close()
	}
	if p.oldTermios != nil {
		unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}
	return unix.Close(p.fd)
}

// Device returns the device path or address this port was opened on.
func (p *Port) Device() string {
	return p.device
}

// SetReadTimeout changes the per-Read timeout.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.config.ReadTimeout = d
	p.mu.Unlock()
}

// Flush discards buffered input and output.
func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	if p.conn != nil {
		return nil
	}
	return unix.IoctlSetInt(p.fd, ioctlTCFlush, unix.TCIOFLUSH)
}

// setModemControl sets or clears a modem control line.
func (p *Port) setModemControl(line int, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	if p.conn != nil {
		return nil
	}
	req := unix.TIOCMBIC
	if on {
		req = unix.TIOCMBIS
	}
	return unix.IoctlSetPointerInt(p.fd, uint(req), line)
}

// SetRTS sets the RTS line state.
func (p *Port) SetRTS(on bool) error {
	return p.setModemControl(unix.TIOCM_RTS, on)
}

// SetDTR sets the DTR line state.
func (p *Port) SetDTR(on bool) error {
	return p.setModemControl(unix.TIOCM_DTR, on)
}

// probe checks whether the device on the far side identifies itself
// as an EBB by issuing a version query.
func probe(p *Port) bool {
	old := p.config.ReadTimeout
	p.SetReadTimeout(2 * time.Second)
	defer p.SetReadTimeout(old)

	p.Flush()
	if _, err := p.Write([]byte("V\r")); err != nil {
		return false
	}
	buf := make([]byte, 128)
	deadline := time.Now().Add(2 * time.Second)
	var resp []byte
	for time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if n > 0 {
			resp = append(resp, buf[:n]...)
			if strings.Contains(string(resp), "EBB") {
				return true
			}
		}
		if err != nil && err != ErrTimeout {
			return false
		}
		if err == ErrTimeout {
			break
		}
	}
	return strings.Contains(string(resp), "EBB")
}

// Detect scans candidate ports for an EBB, retrying until the connect
// timeout expires. An explicitly configured device is opened without
// probing.
func Detect(config Config) (*Port, error) {
	if config.Device != "" {
		return Open(config)
	}
	timeout := config.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		for _, device := range ListPorts() {
			cfg := config
			cfg.Device = device
			port, err := Open(cfg)
			if err != nil {
				logger.Debug("probe %s: %v", device, err)
				continue
			}
			if probe(port) {
				logger.Info("Found EBB at %s", device)
				return port, nil
			}
			port.Close()
		}
		if time.Now().After(deadline) {
			return nil, ErrNoDevice
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// IsDeviceAvailable reports whether the device node exists.
func IsDeviceAvailable(device string) bool {
	if strings.HasPrefix(device, "tcp:") {
		return true
	}
	_, err := os.Stat(device)
	return err == nil
}
