//go:build darwin

package serial

import "golang.org/x/sys/unix"

// Termios ioctl request numbers for macOS.
const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
	ioctlTCFlush    = unix.TIOCFLUSH
	ioctlTCSBrk     = unix.TIOCSBRK
)

// Darwin's Termios speed fields are 64-bit.
func setSpeed(t *unix.Termios, speed uint32) {
	t.Ispeed = uint64(speed)
	t.Ospeed = uint64(speed)
}
