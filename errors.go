package jpgisdem

import (
	"errors"
	"fmt"
)

var (
	ErrParse       = errors.New("parse error")
	ErrConsistency = errors.New("consistency error")
	ErrIO          = errors.New("I/O error")
)

// An Error is a conversion failure attributed to a single file or tile.
type Error struct {
	Kind error
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Name == "" && e.Err == nil:
		return e.Kind.Error()
	case e.Name == "":
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Err.Error())
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Name)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Kind.Error(), e.Name, e.Err.Error())
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func parseErrorf(name, format string, args ...any) error {
	return &Error{Kind: ErrParse, Name: name, Err: fmt.Errorf(format, args...)}
}

func consistencyErrorf(name, format string, args ...any) error {
	return &Error{Kind: ErrConsistency, Name: name, Err: fmt.Errorf(format, args...)}
}

func ioError(name string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: ErrIO, Name: name, Err: err}
}
