//go:build linux

package discover

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// processName reads /proc/<pid>/comm, matching the teacher's pattern of
// reading short-lived /proc files directly rather than parsing the
// heavier /proc/<pid>/stat line when only the command name is needed.
func processName(pid int) string {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
