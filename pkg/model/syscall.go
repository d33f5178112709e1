package model

import "fmt"

const (
	// MaxAppNum is the capacity of the task table.
	MaxAppNum = 16
	// MaxSyscallNum bounds syscall ids; every id below it has a counter slot.
	MaxSyscallNum = 500
)

// ErrTooManyApps is returned when more applications are supplied than the
// task table holds.
var ErrTooManyApps = fmt.Errorf("more than %d applications", MaxAppNum)

// SyscallID identifies a system call kind. The numbering follows the
// RISC-V Linux ABI used by the user library.
type SyscallID uint64

const (
	SysWrite    SyscallID = 64
	SysExit     SyscallID = 93
	SysYield    SyscallID = 124
	SysGetTime  SyscallID = 169
	SysGetPid   SyscallID = 172
	SysTaskInfo SyscallID = 410
)

var syscallNames = map[SyscallID]string{
	SysWrite:    "write",
	SysExit:     "exit",
	SysYield:    "yield",
	SysGetTime:  "get_time",
	SysGetPid:   "getpid",
	SysTaskInfo: "task_info",
}

func (id SyscallID) String() string {
	if name, ok := syscallNames[id]; ok {
		return name
	}
	return fmt.Sprintf("syscall(%d)", uint64(id))
}

// Known returns true if the id is handled by the kernel.
func (id SyscallID) Known() bool {
	_, ok := syscallNames[id]
	return ok
}

// SyscallIDs returns every handled id in ascending order.
func SyscallIDs() []SyscallID {
	return []SyscallID{SysWrite, SysExit, SysYield, SysGetTime, SysGetPid, SysTaskInfo}
}
