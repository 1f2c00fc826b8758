//go:build !linux

package exec

// SetSubreaper is a no-op outside Linux.
func SetSubreaper() error { return nil }
