/*
   Copyright 2020 Docker Compose CLI authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package api

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when an object is not found
	ErrNotFound = errors.New("not found")
	// ErrCanceled is returned when the command was canceled by user
	ErrCanceled = errors.New("canceled")
	// ErrAlreadyRunning is returned when a project is already driven by another process
	ErrAlreadyRunning = errors.New("already running")

	// ErrCycleDetected is returned when the dependency relation is not acyclic
	ErrCycleDetected = errors.New("cycle detected")
	// ErrDanglingReference is returned when a service refers to an undeclared service
	ErrDanglingReference = errors.New("dangling reference")
	// ErrNamespaceOwnerNotStarted is returned when joining the namespace of a service which is not running
	ErrNamespaceOwnerNotStarted = errors.New("namespace owner not started")
	// ErrInvalidSpec is returned when a service definition is inconsistent
	ErrInvalidSpec = errors.New("invalid service definition")
	// ErrPortConflict is returned when two services publish the same host port
	ErrPortConflict = errors.New("port conflict")

	// ErrHealthCheckTimedOut is returned when a service didn't become healthy within its budget
	ErrHealthCheckTimedOut = errors.New("health check timed out")
	// ErrProcessCrashed is returned when a service exited unexpectedly
	ErrProcessCrashed = errors.New("process crashed")
	// ErrRestartBudgetExhausted is returned when a service crashed too often
	ErrRestartBudgetExhausted = errors.New("restart budget exhausted")
	// ErrVolumeInUse is returned when a volume is already mounted by another instance
	ErrVolumeInUse = errors.New("volume in use")
)

// NodeError reports the service a runtime error happened on
type NodeError struct {
	Service string
	Err     error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("service %q: %v", e.Service, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// IsNotFoundError returns true if the unwrapped error is ErrNotFound
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsErrCanceled returns true if the unwrapped error is ErrCanceled
func IsErrCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// IsBuildError returns true if the error was raised validating the stack, before anything started
func IsBuildError(err error) bool {
	return errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrDanglingReference) ||
		errors.Is(err, ErrNamespaceOwnerNotStarted) ||
		errors.Is(err, ErrInvalidSpec) ||
		errors.Is(err, ErrPortConflict)
}

// IsNodeFailure returns true if the error is a runtime failure of a service
func IsNodeFailure(err error) bool {
	var nodeErr *NodeError
	return errors.As(err, &nodeErr) ||
		errors.Is(err, ErrHealthCheckTimedOut) ||
		errors.Is(err, ErrProcessCrashed)
}
