package gnss

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

func OpenPort(path string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:              path,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 200,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "gnss open path=%s", path)
	}
	return port, nil
}

// Pump copies receiver bytes into decoder until stopped or read fails.
// Idle line (read timeout) is not an error.
func (self *Decoder) Pump(a *alive.Alive, r io.Reader) error {
	buf := make([]byte, 256)
	for a.IsRunning() {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = self.Write(buf[:n])
		}
		switch {
		case err == nil, err == io.EOF && n == 0:
		default:
			return errors.Annotate(err, "gnss read")
		}
	}
	return nil
}
