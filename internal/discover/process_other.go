//go:build !linux

package discover

// processName has no portable implementation outside /proc; targets are
// still discoverable by pid, just unnamed.
func processName(pid int) string {
	return ""
}
