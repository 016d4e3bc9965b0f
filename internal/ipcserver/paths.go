package ipcserver

import "fmt"

// SocketPaths returns the per-target command and output socket paths for
// the given pid, per spec §6: "/tmp/rust_shell_cmd_<P>" and
// "/tmp/rust_shell_output_<P>". The literal "rust_shell" prefix is part of
// the observed wire-level naming contract this client/server pair
// reproduces, not a stylistic artifact of this rewrite (see SPEC_FULL.md
// §6).
func SocketPaths(pid int) (cmdPath, outputPath string) {
	return fmt.Sprintf("/tmp/rust_shell_cmd_%d", pid), fmt.Sprintf("/tmp/rust_shell_output_%d", pid)
}
