package qmp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTimeout          = errors.New("qmp: timeout")
	ErrProtocol         = errors.New("qmp: protocol error")
	ErrConnectionClosed = errors.New("qmp: connection closed")
	ErrNotExecuted      = errors.New("qmp: command not executed")
)

// CommandError 对端返回的 error 字段
type CommandError struct {
	Peer    Peer
	Command string
	Class   string
	Desc    string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: command '%s' failed - %s", e.Peer, e.Command, e.Desc)
}

// ExecuteError 汇总一次 Execute 中所有失败的命令
type ExecuteError struct {
	Errors []error
}

func (e *ExecuteError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "\n")
}

func (e *ExecuteError) Unwrap() []error {
	return e.Errors
}
