/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package worker

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMailboxFull is the cause of a WorkerInvokeError when the target mailbox has no room.
	ErrMailboxFull = errors.New("mailbox is full")
	// ErrWorkerStopped is the cause of a WorkerInvokeError after shutdown began.
	ErrWorkerStopped = errors.New("worker is stopped")
	// ErrRemoteSend is the cause of a WorkerInvokeError when a cluster send fails.
	ErrRemoteSend = errors.New("remote send failed")
)

type (
	// ProviderNotFoundError means the role was registered but its workers could not be built.
	ProviderNotFoundError struct {
		Role  string
		Cause error
	}

	// WorkerNotFoundError means nothing was ever registered under the role.
	WorkerNotFoundError struct {
		Role string
	}

	// WorkerInvokeError means a message could not be handed to a worker. The message is
	// dropped; callers log it and move on.
	WorkerInvokeError struct {
		Role  string
		Index int
		Cause error
	}

	// WorkerError is a failure (or panic) inside OnWork or Flush. The consumer survives it.
	WorkerError struct {
		Role  string
		Index int
		Cause error
	}
)

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider of role %s not available: %v", e.Role, e.Cause)
}

func (e *ProviderNotFoundError) Unwrap() error {
	return e.Cause
}

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("role %s is not registered", e.Role)
}

func (e *WorkerInvokeError) Error() string {
	return fmt.Sprintf("invoke worker %s#%d: %v", e.Role, e.Index, e.Cause)
}

func (e *WorkerInvokeError) Unwrap() error {
	return e.Cause
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s#%d: %v", e.Role, e.Index, e.Cause)
}

func (e *WorkerError) Unwrap() error {
	return e.Cause
}

// IsMailboxFull reports whether err was caused by a full mailbox.
func IsMailboxFull(err error) bool {
	return errors.Is(err, ErrMailboxFull)
}
