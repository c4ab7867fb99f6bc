package canopen

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrWouldBlock      = errors.New("operation would block, deadline reached")
	ErrRxMsgLength     = errors.New("wrong receive message length")
	ErrSyscall         = errors.New("syscall failed")
	ErrNotConnected    = errors.New("bus is not connected")
)
