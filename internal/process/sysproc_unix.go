//go:build !windows

package process

import (
	"os/exec"
	"syscall"

	"github.com/mpataki/deck/internal/launch"
)

// Children get their own session so they outlive the launcher's terminal.
func configureSysProc(cmd *exec.Cmd, _ *launch.Plan) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
