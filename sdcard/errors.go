package sdcard

import "errors"

var (
	ErrCardAbsent           = errors.New("no card detected")
	ErrResetFailed          = errors.New("card did not enter idle state")
	ErrVerificationFailed   = errors.New("interface condition check failed")
	ErrInitializationFailed = errors.New("card did not leave idle state")
	ErrCapacityCheckFailed  = errors.New("card is not high capacity")
	ErrResponseTimeout      = errors.New("response timeout")
	ErrReadFailed           = errors.New("block read failed")
	ErrNotReady             = errors.New("card not initialized")
)
