//go:build linux

package sensor

import (
	"fmt"
	"strings"

	evdev "github.com/gvalkov/golang-evdev"
)

// DefaultNameHint matches the name most IIO accelerometer input bridges use.
const DefaultNameHint = "accel"

// FindAccelerometer returns the path of the first input device whose name
// contains hint (case-insensitive).
func FindAccelerometer(hint string) (string, error) {
	if hint == "" {
		hint = DefaultNameHint
	}
	devices, err := evdev.ListInputDevices()
	if err != nil {
		return "", fmt.Errorf("%w: list input devices: %v", ErrUnavailable, err)
	}

	var found string
	for _, dev := range devices {
		if found == "" && strings.Contains(strings.ToLower(dev.Name), strings.ToLower(hint)) {
			found = dev.Fn
		}
		if dev.File != nil {
			dev.File.Close()
		}
	}
	if found == "" {
		return "", fmt.Errorf("%w: no input device matching %q", ErrUnavailable, hint)
	}
	return found, nil
}
