package modem

import "time"

// Device is byte stream to modem. Both UART and test simulator implement it.
type Device interface {
	// SendLine writes command terminated by CRLF. Stale input is discarded first.
	SendLine(line string) error
	// Write sends raw payload after DOWNLOAD prompt.
	Write(b []byte) error
	// ReadAvailable returns bytes received within window.
	// Returns early when line burst pauses, empty string means window passed silently.
	ReadAvailable(window time.Duration) (string, error)
	Close() error
}
