package log

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Errors that terminate a daemon on startup or while running.
var (
	ErrMalformedConfig = newFatalErrorWithReason("ERR_MALFORMED_CONFIG", "config file is malformed")
	ErrBadFlags        = newFatalErrorWithReason("ERR_BAD_FLAGS", "bad CLI flags")
	ErrOpenStorage     = newFatalErrorWithReason("ERR_OPEN_STORAGE", "could not open block storage")
	ErrStorageIO       = newFatalErrorWithReason("ERR_STORAGE_IO", "block storage failed")
	ErrSourceImage     = newFatalErrorWithReason("ERR_SOURCE_IMAGE", "could not read source image")
	ErrTransport       = newFatalErrorWithReason("ERR_TRANSPORT", "transport failed")
	ErrAlreadyRunning  = newFatalErrorWithArgs("ERR_ALREADY_RUNNING", "another instance holds the lock on %v")
)

// FatalError carries a stable code so supervisors can tell failures apart.
type FatalError struct {
	Code   string
	Text   string
	Args   []any
	Reason error
}

func newFatalErrorWithArgs(code, text string) func(args ...any) *FatalError {
	return func(args ...any) *FatalError {
		return &FatalError{
			Code: code,
			Text: text,
			Args: args,
		}
	}
}

func newFatalErrorWithReason(code, text string) func(reason error) *FatalError {
	return func(reason error) *FatalError {
		return &FatalError{
			Code:   code,
			Text:   text,
			Reason: reason,
		}
	}
}

func (fe *FatalError) Error() string {
	if fe.Reason != nil {
		return fmt.Sprintf("%v: %v", fe.Text, fe.Reason)
	}
	if len(fe.Args) != 0 {
		return fmt.Sprintf(fe.Text, fe.Args...)
	}
	return fe.Text
}

func (fe *FatalError) Unwrap() error { return fe.Reason }

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (fe *FatalError) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("code", fe.Code)
	encoder.AddString("error", fe.Error())
	return encoder.AddArray("args", arrayMarshaler(fe.Args))
}

type arrayMarshaler []any

func (args arrayMarshaler) MarshalLogArray(encoder zapcore.ArrayEncoder) error {
	for _, arg := range args {
		if err := encoder.AppendReflected(arg); err != nil {
			return err
		}
	}
	return nil
}
