// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = pkgerrors.New("session not found")
	// ErrSessionExists reports a start on an id that is already live.
	ErrSessionExists = pkgerrors.New("session already exists")
	// ErrSessionErrored reports an operation on a session parked in the
	// errored state; only get_state and finalize remain permitted.
	ErrSessionErrored = pkgerrors.New("session is errored")
)

// OutOfOrderError rejects input that does not match the session's pause
// point. The session is left untouched.
type OutOfOrderError struct {
	Op       string
	Stage    Stage
	Expected PauseKind
}

func (e *OutOfOrderError) Error() string {
	if e.Expected == PauseNone {
		return fmt.Sprintf("%s: session at stage %s is not awaiting input", e.Op, e.Stage)
	}
	return fmt.Sprintf("%s: session at stage %s awaits %s", e.Op, e.Stage, e.Expected)
}

// BadInputError rejects a submission on content grounds before any state
// is touched.
type BadInputError struct {
	Op     string
	Reason string
}

func (e *BadInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// RetryableError marks a stage failure as transient: the session stays at
// the failed stage and the same operation may be retried.
type RetryableError struct {
	Stage Stage
	Err   error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("stage %s: %v (retryable)", e.Stage, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as transient for the given stage. A nil err passes
// through.
func Retryable(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Stage: stage, Err: err}
}

// IsRetryable reports whether the operation may be reissued as-is.
func IsRetryable(err error) bool {
	var re *RetryableError
	return pkgerrors.As(err, &re)
}
