package sys

// System call numbers of the riscv64 generic ABI.
const (
	SysClose         = 57
	SysRead          = 63
	SysWrite         = 64
	SysExit          = 93
	SysExitGroup     = 94
	SysSetTIDAddress = 96
	SysFutex         = 98
	SysNanosleep     = 101
	SysSetitimer     = 103
	SysSchedYield    = 124
	SysKill          = 129
	SysTkill         = 130
	SysRtSigaction   = 134
	SysRtSigprocmask = 135
	SysRtSigreturn   = 139
	SysGetpid        = 172
	SysGetppid       = 173
	SysGettid        = 178
	SysShmget        = 194
	SysShmctl        = 195
	SysShmat         = 196
	SysShmdt         = 197
	SysSocketpair    = 199
	SysBrk           = 214
	SysClone         = 220
	SysWait4         = 260
	SysPrlimit64     = 261
)
