package errors

// ErrorCode identifies a class of failure. Callers branch on codes, never on
// message text.
type ErrorCode string

// Coder is implemented by values that classify themselves with an ErrorCode.
// HasCode and CodeOf recognise any error in a chain that implements it.
type Coder interface {
	Code() ErrorCode
}

// Error is a coded error that can carry a custom message, a data payload and
// a cause.
type Error interface {
	error
	Coder
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory creates coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}

type codedError interface {
	error
	Coder
}
