//go:build unix

package discovery

import "golang.org/x/sys/unix"

// isCharDevice reports whether path is a character device node
func isCharDevice(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFCHR
}
