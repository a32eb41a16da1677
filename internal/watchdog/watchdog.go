// Package watchdog feeds the hardware watchdog. The kernel exposes the
// timer as a character device; writing any byte resets the countdown.
package watchdog

import (
	"fmt"
	"os"
	"sync"
)

// Device feeds a watchdog character device such as /dev/watchdog.
type Device struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens the watchdog device for feeding. The countdown starts the
// moment the device is opened on most drivers.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %q: %w", path, err)
	}
	return &Device{file: f}, nil
}

// Feed resets the watchdog countdown.
func (d *Device) Feed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.Write([]byte{'k'}); err != nil {
		return fmt.Errorf("feed watchdog: %w", err)
	}
	return nil
}

// Close writes the magic close character so well-behaved drivers disarm
// the timer, then closes the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.Write([]byte{'V'}); err != nil {
		d.file.Close()
		return fmt.Errorf("disarm watchdog: %w", err)
	}
	return d.file.Close()
}

// Func adapts a function to the watchdog contract.
type Func func() error

// Feed calls the wrapped function.
func (f Func) Feed() error { return f() }

// Noop is a watchdog that does nothing, for hosts without the device.
type Noop struct{}

// Feed does nothing.
func (Noop) Feed() error { return nil }
