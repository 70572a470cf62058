package edoc

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/andreyvit/edoc/query"
)

// Kind classifies errors returned by the database.
type Kind int

const (
	KindUnknown Kind = iota
	InvalidArgument
	NotFound
	AlreadyExists
	UniqueViolation
	InvalidQuery
	StorageFailure
	OutOfMemory
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUniqueViolation = errors.New("unique constraint violation")
	ErrInvalidQuery    = query.ErrInvalidQuery
	ErrStorageFailure  = errors.New("storage failure")
	ErrOutOfMemory     = errors.New("out of memory")
)

func (k Kind) sentinel() error {
	switch k {
	case InvalidArgument:
		return ErrInvalidArgument
	case NotFound:
		return ErrNotFound
	case AlreadyExists:
		return ErrAlreadyExists
	case UniqueViolation:
		return ErrUniqueViolation
	case InvalidQuery:
		return ErrInvalidQuery
	case StorageFailure:
		return ErrStorageFailure
	case OutOfMemory:
		return ErrOutOfMemory
	default:
		return nil
	}
}

func (k Kind) String() string {
	if err := k.sentinel(); err != nil {
		return err.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every fallible operation. Match it with errors.Is
// against ErrNotFound, ErrUniqueViolation etc., or extract it with errors.As.
type Error struct {
	Kind       Kind
	Collection string
	Index      string
	Key        string
	Msg        string
	Err        error
}

func collErrf(kind Kind, coll, idx string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Collection: coll, Index: idx, Msg: fmt.Sprintf(format, args...), Err: err}
}

func argErrf(format string, args ...any) *Error {
	return &Error{Kind: InvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *Error) Error() string {
	var buf strings.Builder
	if e.Collection != "" {
		buf.WriteString(e.Collection)
		if e.Index != "" {
			buf.WriteByte('.')
			buf.WriteString(e.Index)
		}
		if e.Key != "" {
			buf.WriteByte('/')
			buf.WriteString(e.Key)
		}
		buf.WriteString(": ")
	}
	if e.Msg != "" {
		buf.WriteString(e.Msg)
	} else {
		buf.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// KindOf returns the Kind of err, or KindUnknown if err did not originate here.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, query.ErrInvalidQuery) {
		return InvalidQuery
	}
	return KindUnknown
}

// storageErr wraps an error coming from the store. Errors that are already
// classified pass through unchanged.
func storageErr(coll string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := StorageFailure
	if errors.Is(err, syscall.ENOMEM) {
		kind = OutOfMemory
	}
	return collErrf(kind, coll, "", err, format, args...)
}

func queryErr(coll string, err error) error {
	if err == nil {
		return nil
	}
	return collErrf(InvalidQuery, coll, "", err, "bad filter")
}

// DataError reports stored bytes that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	var data string
	if n <= prefixLen+suffixLen {
		data = fmt.Sprintf("(%d) %x", n, e.Data)
	} else {
		data = fmt.Sprintf("(%d) %x...%x", n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
	if e.Off > 0 {
		data = fmt.Sprintf("%s at %d", data, e.Off)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %s", e.Msg, e.Err, data)
	}
	return fmt.Sprintf("%s: %s", e.Msg, data)
}
