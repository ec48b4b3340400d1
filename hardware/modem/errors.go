package modem

import "github.com/juju/errors"

var (
	ErrModemUnresponsive  = errors.New("modem not responding")
	ErrBearerSetupFailed  = errors.New("bearer setup failed")
	ErrTransmissionFailed = errors.New("transmission failed")
	ErrFaulted            = errors.New("modem protocol fault")
	ErrState              = errors.New("invalid session state")
)

func IsModemUnresponsive(e error) bool  { return errors.Cause(e) == ErrModemUnresponsive }
func IsBearerSetupFailed(e error) bool  { return errors.Cause(e) == ErrBearerSetupFailed }
func IsTransmissionFailed(e error) bool { return errors.Cause(e) == ErrTransmissionFailed }
func IsFaulted(e error) bool            { return errors.Cause(e) == ErrFaulted }
func IsState(e error) bool              { return errors.Cause(e) == ErrState }
