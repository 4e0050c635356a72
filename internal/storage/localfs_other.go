//go:build !darwin && !linux

package storage

// No detection on this platform; everything counts as local.
func filesystemName(string) (string, error) {
	return "local", nil
}
