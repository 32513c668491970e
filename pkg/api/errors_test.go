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
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
)

func TestIsNotFound(t *testing.T) {
	err := errors.Wrap(ErrNotFound, `object "name"`)
	assert.Assert(t, IsNotFoundError(err))

	assert.Assert(t, !IsNotFoundError(errors.New("another error")))
}

func TestIsBuildError(t *testing.T) {
	for _, sentinel := range []error{ErrCycleDetected, ErrDanglingReference, ErrNamespaceOwnerNotStarted, ErrInvalidSpec, ErrPortConflict} {
		err := fmt.Errorf("service %q: %w", "web", sentinel)
		assert.Assert(t, IsBuildError(err), sentinel.Error())
		assert.Assert(t, !IsNodeFailure(err), sentinel.Error())
	}
	assert.Assert(t, !IsBuildError(ErrHealthCheckTimedOut))
}

func TestNodeError(t *testing.T) {
	err := error(&NodeError{Service: "db", Err: ErrProcessCrashed})
	assert.Equal(t, err.Error(), `service "db": process crashed`)
	assert.Assert(t, errors.Is(err, ErrProcessCrashed))
	assert.Assert(t, IsNodeFailure(errors.Wrap(err, "up")))
}
