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

package stackd

import (
	"errors"

	"github.com/docker/stackd/pkg/api"
)

// Exit codes
const (
	ExitFailure     = 1
	ExitBuildError  = 2
	ExitNodeFailure = 3
	ExitCanceled    = 130
)

// StatusError reports an unsuccessful exit by a command
type StatusError struct {
	Status     string
	StatusCode int
	Cause      error
}

func (e StatusError) Error() string {
	return e.Status
}

func (e StatusError) Unwrap() error {
	return e.Cause
}

func toStatusError(err error) error {
	switch {
	case err == nil:
		return nil
	case api.IsErrCanceled(err):
		return StatusError{StatusCode: ExitCanceled, Status: "canceled", Cause: err}
	case api.IsBuildError(err):
		return StatusError{StatusCode: ExitBuildError, Status: err.Error(), Cause: err}
	case api.IsNodeFailure(err):
		return StatusError{StatusCode: ExitNodeFailure, Status: err.Error(), Cause: err}
	}
	return err
}

// ExitCode returns the process exit code for err
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return ExitFailure
}

// ExitCode is the process exit code
func (e StatusError) ExitCode() int {
	return e.StatusCode
}
