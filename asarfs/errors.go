package asarfs

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	ErrNotFound         = errors.New("no such file or directory")
	ErrNotADirectory    = errors.New("not a directory")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidArchive   = errors.New("invalid package")

	ErrDamagedApp  = errors.New("application is damaged")
	ErrDamagedFile = errors.New("file is damaged")

	ErrShutdown = errors.New("context is shut down")
)

// Error codes carried by *Error and *IntegrityFailure.
const (
	CodeNotFound        = "ENOENT"
	CodeNotADirectory   = "ENOTDIR"
	CodePermission      = "EACCES"
	CodeDamagedApp      = "EDAMAGEDAPP"
	CodeDamagedFile     = "EDAMAGEDFILE"
	errnoNotFound       = -2
	errnoNotADirectory  = -20
	errnoPermission     = -13
	moduleStatFile      = 0
	moduleStatDirectory = 1
)

// Error describes a failed operation on an archive member.
type Error struct {
	Op      string
	Path    string
	Archive string
	Err     error
}

func (e *Error) Error() string {
	path := e.Path
	if path == "" {
		path = e.Archive
	}
	if errors.Is(e.Err, ErrInvalidArchive) {
		return fmt.Sprintf("%s %s: Invalid package %s", e.Op, path, e.Archive)
	}
	return fmt.Sprintf("%s %s: %s, %s", e.Op, path, e.Code(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets archive errors match the io/fs sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e.Err == ErrNotFound
	case fs.ErrPermission:
		return e.Err == ErrPermissionDenied
	}
	return false
}

// Code returns the symbolic error code, or "" for invalid archives.
func (e *Error) Code() string {
	switch e.Err {
	case ErrNotFound:
		return CodeNotFound
	case ErrNotADirectory:
		return CodeNotADirectory
	case ErrPermissionDenied:
		return CodePermission
	}
	return ""
}

// Errno returns the negated errno value for the code, or 0.
func (e *Error) Errno() int {
	switch e.Err {
	case ErrNotFound:
		return errnoNotFound
	case ErrNotADirectory:
		return errnoNotADirectory
	case ErrPermissionDenied:
		return errnoPermission
	}
	return 0
}

func newError(op string, c Classification, err error) *Error {
	return &Error{Op: op, Path: c.InnerPath, Archive: c.ArchivePath, Err: err}
}

// IntegrityFailure is a fatal integrity violation.
type IntegrityFailure struct {
	Code     string
	Path     string
	Reason   string
	Expected string
	Actual   string
}

func (e *IntegrityFailure) Error() string {
	if e.Code == CodeDamagedFile {
		return fmt.Sprintf("%s: %s is damaged: expected %s, got %s", e.Code, e.Path, e.Expected, e.Actual)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *IntegrityFailure) Unwrap() error {
	if e.Code == CodeDamagedFile {
		return ErrDamagedFile
	}
	return ErrDamagedApp
}

// IsFatal reports whether err carries an integrity failure.
func IsFatal(err error) bool {
	var f *IntegrityFailure
	return errors.As(err, &f)
}

func damagedApp(path, reason string) *IntegrityFailure {
	return &IntegrityFailure{Code: CodeDamagedApp, Path: path, Reason: reason}
}
