//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealOutputs is not available on non-Linux platforms.
type RealOutputs struct{}

// NewRealOutputs returns an error on non-Linux platforms.
func NewRealOutputs(pins ...int) (*RealOutputs, error) {
	return nil, errUnsupported
}

// Write is not implemented on non-Linux platforms.
func (o *RealOutputs) Write(pin int, on bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (o *RealOutputs) Close() error {
	return nil
}

// RealLevel is not available on non-Linux platforms.
type RealLevel struct{}

// NewRealLevel returns an error on non-Linux platforms.
func NewRealLevel(pin int) (*RealLevel, error) {
	return nil, errUnsupported
}

// IsFull is not implemented on non-Linux platforms.
func (r *RealLevel) IsFull() (bool, error) {
	return false, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *RealLevel) Close() error {
	return nil
}
