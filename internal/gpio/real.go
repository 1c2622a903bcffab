//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const chipName = "gpiochip0"

// RealOutputs drives relay lines on actual hardware.
type RealOutputs struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealOutputs requests each pin as an output driven low.
func NewRealOutputs(pins ...int) (*RealOutputs, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	o := &RealOutputs{chip: chip, lines: make(map[int]*gpiocdev.Line, len(pins))}
	for _, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("request output pin %d: %w", pin, err)
		}
		o.lines[pin] = line
	}
	return o, nil
}

// Write sets the line high (on) or low (off).
func (o *RealOutputs) Write(pin int, on bool) error {
	line, ok := o.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d not requested", pin)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Close drives every line low, then reconfigures it to input with pull-down
// (the Pi boot default) so the relays stay released across reboot.
func (o *RealOutputs) Close() error {
	var errs []error

	for pin, line := range o.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release pin %d: %w", pin, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(o.lines, pin)
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		o.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealLevel reads the float switch on actual hardware.
type RealLevel struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealLevel requests the float switch pin as an input.
func NewRealLevel(pin int) (*RealLevel, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request level pin %d: %w", pin, err)
	}

	return &RealLevel{chip: chip, line: line}, nil
}

// IsFull reports whether the switch is closed. Raw high = full.
func (r *RealLevel) IsFull() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read level pin: %w", err)
	}
	return v == 1, nil
}

// Close releases GPIO resources.
func (r *RealLevel) Close() error {
	var errs []error
	if r.line != nil {
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close level pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
