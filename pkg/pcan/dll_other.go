//go:build !windows && !linux

package pcan

// Load always fails: PEAK ships PCAN-Basic for Windows and Linux only.
func Load() (Driver, error) {
	return nil, ErrNoDriver
}
