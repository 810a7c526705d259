package errcodes

import (
	"errors"
	"fmt"
)

// Kind classifies sync errors by how the engine must react to them.
type Kind string

const (
	// KindTransient marks failures worth retrying (network, timeout, rate limit).
	KindTransient Kind = "transient"
	// KindPermanent marks failures that retrying cannot fix (gone resource, bad payload).
	KindPermanent Kind = "permanent"
	// KindUnauthenticated marks credential failures. Fatal, never retried.
	KindUnauthenticated Kind = "unauthenticated"
	// KindCacheIncompatible marks a cache schema the engine does not understand.
	// Fatal; the user must rebuild the cache explicitly.
	KindCacheIncompatible Kind = "cache_incompatible"
	// KindRenameConflict marks a folder rename that could not be completed.
	// Non-fatal; the post falls back to its previous folder.
	KindRenameConflict Kind = "rename_conflict"
	// KindInterrupted marks a run stopped by an external interrupt signal.
	KindInterrupted Kind = "interrupted"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (err *Error) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("%s: %v", err.Message, err.Err)
	}
	return err.Message
}

func (err *Error) Unwrap() error { return err.Err }

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Kind == err.Kind
}

// Transient wraps err as a retryable failure.
func Transient(err error, msg string) error {
	return &Error{KindTransient, msg, err}
}

// Permanent wraps err as a failure that must not be retried.
func Permanent(err error, msg string) error {
	return &Error{KindPermanent, msg, err}
}

// Unauthenticated returns a fatal credential error.
func Unauthenticated(msg string) error {
	return &Error{KindUnauthenticated, msg, nil}
}

// CacheIncompatible returns a fatal cache schema error.
func CacheIncompatible(got, want string) error {
	return &Error{
		KindCacheIncompatible,
		fmt.Sprintf("cache schema version %q does not match expected %q; run `boosty-downloader cache rebuild`", got, want),
		nil,
	}
}

// RenameConflict wraps err as a non-fatal folder rename failure.
func RenameConflict(err error, oldPath, newPath string) error {
	return &Error{
		KindRenameConflict,
		fmt.Sprintf("could not rename %q to %q", oldPath, newPath),
		err,
	}
}

// Interrupted returns the error used to report a graceful drain.
func Interrupted() error {
	return &Error{KindInterrupted, "sync interrupted", nil}
}

// KindOf returns the Kind of err, or empty when err carries no taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err should be retried by the executor.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	k := KindOf(err)
	return k == KindUnauthenticated || k == KindCacheIncompatible
}
