//go:build !unix

package discovery

func isCharDevice(path string) bool {
	return true
}
