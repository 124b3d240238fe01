package far

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// Kind classifies archive failures.
type Kind uint8

const (
	// KindUnknown is reported for errors that did not originate in this package.
	KindUnknown Kind = iota
	// KindFormat marks malformed or truncated archives.
	KindFormat
	// KindIO marks seek, read, create or write failures on a source or destination.
	KindIO
	// KindLookup marks a path that is not present in the archive.
	KindLookup
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindIO:
		return "io"
	case KindLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

// Sentinel errors matched by [Error] through errors.Is.
var (
	// ErrFormat is matched by every format error.
	ErrFormat = errors.New("far: invalid archive")

	// ErrIO is matched by every I/O error.
	ErrIO = errors.New("far: i/o failure")

	// ErrNotFound is matched by lookups of absent paths.
	// Lookup errors also match fs.ErrNotExist.
	ErrNotFound = errors.New("far: path not found")

	// ErrTooManyFiles is returned when the directory chunk holds more entries
	// than the limit configured with WithMaxFiles.
	ErrTooManyFiles = errors.New("far: too many files")
)

// Error describes a failed archive operation.
type Error struct {
	// Op is the operation that failed, e.g. "open" or "extract".
	Op string
	// Path is the archive path involved, if any.
	Path string
	// Kind classifies the failure.
	Kind Kind
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := "far: " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrFormat:
		return e.Kind == KindFormat
	case ErrIO:
		return e.Kind == KindIO
	case ErrNotFound, fs.ErrNotExist:
		return e.Kind == KindLookup
	}
	return false
}

// KindOf returns the kind of the first [Error] in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func formatError(op, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindFormat, Err: fmt.Errorf(format, args...)}
}

func ioError(op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Kind: KindIO, Err: err}
}

func notFound(op, path string) *Error {
	return &Error{Op: op, Path: path, Kind: KindLookup, Err: fs.ErrNotExist}
}

// readError classifies a failed read during open. Running out of bytes means
// the archive is truncated, anything else is an I/O failure.
func readError(op string, err error, what string) *Error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return formatError(op, "truncated %s: %w", what, err)
	}
	return ioError(op, "", fmt.Errorf("read %s: %w", what, err))
}
