package fop

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

var (
	ErrUnknownScheme      = errors.New("no backend for scheme")
	ErrNotSupported       = errors.New("operation not supported by backend")
	ErrEnumerationTimeout = errors.New("directory enumeration timed out")
	ErrStopped            = errors.New("job stopped")
	ErrNoSpace            = errors.New("not enough free space on target device")
	ErrTargetIsDescendant = errors.New("target is inside the source directory")
	ErrIncompleteCopy     = errors.New("copied size does not match source")
)

// ErrorKind classifies failures for the decision channel.
type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	ErrKindProgram
	ErrKindPermission
	ErrKindNoSpace
	ErrKindFileExists
	ErrKindDirExists
	ErrKindRead
	ErrKindWrite
	ErrKindOpen
	ErrKindCreateParentDir
	ErrKindTargetIsDescendant
	ErrKindDeviceRemoved
	ErrKindNotFound
	ErrKindDelete
	ErrKindSymlink
	ErrKindEnumerate
	ErrKindUnsupported
	ErrKindLeftoverSource
)

var errorKindNames = map[ErrorKind]string{
	ErrKindNone:               "none",
	ErrKindProgram:            "program",
	ErrKindPermission:         "permission",
	ErrKindNoSpace:            "no-space",
	ErrKindFileExists:         "file-exists",
	ErrKindDirExists:          "dir-exists",
	ErrKindRead:               "read",
	ErrKindWrite:              "write",
	ErrKindOpen:               "open",
	ErrKindCreateParentDir:    "create-parent-dir",
	ErrKindTargetIsDescendant: "target-is-descendant",
	ErrKindDeviceRemoved:      "device-removed",
	ErrKindNotFound:           "not-found",
	ErrKindDelete:             "delete",
	ErrKindSymlink:            "symlink",
	ErrKindEnumerate:          "enumerate",
	ErrKindUnsupported:        "unsupported",
	ErrKindLeftoverSource:     "leftover-source",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsCollision reports whether k is a name collision.
func (k ErrorKind) IsCollision() bool {
	return k == ErrKindFileExists || k == ErrKindDirExists
}

// transient reports whether an error of kind k is worth an automatic
// retry before asking.
func (k ErrorKind) transient() bool {
	return k == ErrKindRead || k == ErrKindWrite
}

// OpError records a failed operation on one source/target pair.
type OpError struct {
	Kind ErrorKind
	Op   string
	From URL
	To   URL
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case !e.From.IsZero() && !e.To.IsZero():
		return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.From, e.To, e.Err)
	case !e.To.IsZero():
		return fmt.Sprintf("%s %s: %v", e.Op, e.To, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.From, e.Err)
	}
}

func (e *OpError) Unwrap() error { return e.Err }

// KindOf classifies err. Errors that carry no recognisable cause get
// fallback.
func KindOf(err error, fallback ErrorKind) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Kind != ErrKindNone {
		return opErr.Kind
	}
	switch {
	case errors.Is(err, ErrNoSpace), errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return ErrKindNoSpace
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return ErrKindPermission
	case errors.Is(err, fs.ErrExist):
		return ErrKindFileExists
	case errors.Is(err, fs.ErrNotExist):
		return ErrKindNotFound
	case errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO), errors.Is(err, syscall.ESTALE):
		return ErrKindDeviceRemoved
	case errors.Is(err, ErrTargetIsDescendant):
		return ErrKindTargetIsDescendant
	case errors.Is(err, ErrNotSupported):
		return ErrKindUnsupported
	case errors.Is(err, ErrEnumerationTimeout):
		return ErrKindEnumerate
	}
	return fallback
}
