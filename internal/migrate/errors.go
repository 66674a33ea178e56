package migrate

import (
	"errors"
	"fmt"

	"pvemigrate/internal/storagesync"
)

// ValidationError Prepare 阶段的检查失败，没有任何副作用
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TransportError 隧道建立、版本协商或 socket 转发失败
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConvergenceError 内存迁移以 failed/cancelled 或未知状态结束
type ConvergenceError struct {
	Status string
	Desc   string
}

func (e *ConvergenceError) Error() string {
	if e.Desc != "" {
		return fmt.Sprintf("migration status error: %s - %s", e.Status, e.Desc)
	}
	return fmt.Sprintf("migration status error: %s", e.Status)
}

// asValidation 把存储预检的错误归为 ValidationError
func asValidation(err error) error {
	var verr *storagesync.ValidationError
	if errors.As(err, &verr) {
		return &ValidationError{Err: err}
	}
	return err
}
