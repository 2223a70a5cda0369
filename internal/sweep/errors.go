package sweep

import (
	"errors"
	"fmt"
)

// ErrorKind 区分错误来源，决定调用方如何上报。
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindExternalJob   ErrorKind = "external_job"
	KindPersistence   ErrorKind = "persistence"
	KindParse         ErrorKind = "parse"
)

// Error 是扫描流程中的统一错误类型，任何种类都不会终止宿主进程。
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is 让 errors.Is(err, &Error{Kind: ...}) 按种类匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrExternalJob   = &Error{Kind: KindExternalJob}
	ErrPersistence   = &Error{Kind: KindPersistence}
	ErrParse         = &Error{Kind: KindParse}
)

func ConfigurationError(op string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

func ExternalJobError(op string, err error) error {
	return &Error{Kind: KindExternalJob, Op: op, Err: err}
}

func PersistenceError(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

func ParseError(op string, err error) error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// KindOf 返回错误种类，非 *Error 返回空串。
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
