package modem

import (
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// burst ends when line is quiet this long
const interByteGap = 50 * time.Millisecond

type fder interface{ Fd() uintptr }

// Uart is Device over serial port.
type Uart struct {
	port io.ReadWriteCloser
	fd   int
	buf  []byte
}

func OpenUart(path string, baud int) (*Uart, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        path,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "uart open path=%s", path)
	}
	f, ok := port.(fder)
	if !ok {
		port.Close()
		return nil, errors.NotSupportedf("uart path=%s without file descriptor", path)
	}
	return &Uart{
		port: port,
		fd:   int(f.Fd()),
		buf:  make([]byte, 256),
	}, nil
}

func (self *Uart) Close() error { return self.port.Close() }

// Discard drops unread input, leftovers of previous exchange.
func (self *Uart) Discard() error {
	return errors.Trace(unix.IoctlSetInt(self.fd, unix.TCFLSH, unix.TCIFLUSH))
}

func (self *Uart) SendLine(line string) error {
	if err := self.Discard(); err != nil {
		return err
	}
	return self.Write([]byte(line + CRLF))
}

func (self *Uart) Write(b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(self.fd, b)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return errors.Annotate(err, "uart write")
		}
		b = b[n:]
	}
	return nil
}

func (self *Uart) ReadAvailable(window time.Duration) (string, error) {
	out := make([]byte, 0, 64)
	deadline := time.Now().Add(window)
	fds := []unix.PollFd{{Fd: int32(self.fd), Events: unix.POLLIN}}
	for {
		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		n, err := unix.Poll(fds, int(wait/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return string(out), errors.Annotate(err, "uart poll")
		}
		if n == 0 {
			return string(out), nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return string(out), errors.Errorf("uart poll revents=%x", fds[0].Revents)
		}
		k, err := unix.Read(self.fd, self.buf)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return string(out), errors.Annotate(err, "uart read")
		}
		out = append(out, self.buf[:k]...)
		// got something, keep reading while burst continues
		if gap := time.Now().Add(interByteGap); gap.Before(deadline) {
			deadline = gap
		}
	}
}
