package esp

//go:generate go tool mockgen -source=reset.go -destination=mock_reset.go -package=esp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ResetLine drives the module's RST pin. The module resets while the line is
// asserted (pulled to ground) and boots when it is released.
type ResetLine interface {
	Assert() error
	Release() error
}

const defaultGPIORoot = "/sys/class/gpio"

// SysfsResetLine drives RST through the Linux sysfs GPIO interface.
//
// Asserting configures the pin as an output driven low, which acts as an open
// drain to ground. Releasing turns the pin back into a high impedance input so
// no level shifting is needed for the 3.3V module.
type SysfsResetLine struct {
	pin  int
	root string
}

// NewSysfsResetLine returns a reset line for BCM pin number pin.
func NewSysfsResetLine(pin int) (*SysfsResetLine, error) {
	if pin < 0 {
		return nil, errors.New("esp: reset pin must be non-negative")
	}
	return &SysfsResetLine{pin: pin, root: defaultGPIORoot}, nil
}

func (l *SysfsResetLine) Assert() error {
	if err := l.export(); err != nil {
		return err
	}
	// "low" switches to output and drives 0 in one step, avoiding a glitch high.
	return l.write("direction", "low")
}

func (l *SysfsResetLine) Release() error {
	return l.write("direction", "in")
}

func (l *SysfsResetLine) export() error {
	valuePath := filepath.Join(l.pinDir(), "value")
	if _, err := os.Stat(valuePath); err == nil {
		return nil
	}
	exportPath := filepath.Join(l.root, "export")
	if err := os.WriteFile(exportPath, []byte(strconv.Itoa(l.pin)), 0644); err != nil {
		return fmt.Errorf("export gpio %d: %w", l.pin, err)
	}
	return nil
}

func (l *SysfsResetLine) write(attr, value string) error {
	path := filepath.Join(l.pinDir(), attr)
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("gpio %d %s=%s: %w", l.pin, attr, value, err)
	}
	return nil
}

func (l *SysfsResetLine) pinDir() string {
	return filepath.Join(l.root, "gpio"+strconv.Itoa(l.pin))
}
