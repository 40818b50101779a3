//go:build !windows

package status

// SimVersion is only available on Windows.
func SimVersion() (string, error) {
	return UnsupportedOS, nil
}
