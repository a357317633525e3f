//go:build windows

package process

import (
	"os/exec"
	"syscall"

	"github.com/mpataki/deck/internal/launch"
)

const (
	createNewConsole = 0x00000010
	createNoWindow   = 0x08000000
)

func configureSysProc(cmd *exec.Cmd, plan *launch.Plan) {
	flags := uint32(syscall.CREATE_NEW_PROCESS_GROUP)
	switch {
	case plan.NewConsole:
		flags |= createNewConsole
	case plan.PIDFromOutput:
		flags |= createNoWindow
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
	if plan.CmdLine != "" {
		cmd.SysProcAttr.CmdLine = plan.CmdLine
	}
}
