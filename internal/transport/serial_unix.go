//go:build linux

package transport

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// SerialSource opens a local tty device (the P2 debug bridge's USB-serial
// adapter) in raw mode at a fixed baud rate.
type SerialSource struct {
	path string
	baud int
}

// NewSerialSource builds a Source backed by a local serial device path, e.g.
// "/dev/ttyUSB0".
func NewSerialSource(path string, baud int) *SerialSource {
	return &SerialSource{path: path, baud: baud}
}

func (s *SerialSource) Name() string { return fmt.Sprintf("serial:%s@%d", s.path, s.baud) }

// Dial opens the device and configures termios for raw, non-canonical,
// 8N1 I/O at the configured baud rate. The returned ReadCloser's Close also
// restores nothing: the device is expected to be dedicated to this process.
func (s *SerialSource) Dial(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.OpenFile(s.path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}

	fd := int(f.Fd())
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("get termios for %s: %w", s.path, err)
	}

	speed, err := baudConstant(s.baud)
	if err != nil {
		f.Close()
		return nil, err
	}

	makeRaw(termios)
	termios.Cflag |= unix.CREAD | unix.CLOCAL
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	termios.Cflag |= unix.CS8
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= speed
	termios.Ispeed = speed
	termios.Ospeed = speed

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		f.Close()
		return nil, fmt.Errorf("set termios for %s: %w", s.path, err)
	}

	return f, nil
}

// makeRaw clears the flags that would otherwise buffer by line, echo
// input, or let the kernel interpret control characters — this is the
// textbook cfmakeraw(3) transformation applied to the flags unix.Termios
// exposes directly.
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

func baudConstant(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, fmt.Errorf("unsupported baud rate %d", baud)
	}
}
