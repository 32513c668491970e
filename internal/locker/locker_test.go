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

package locker

import (
	"os"
	"testing"

	"gotest.tools/v3/assert"
)

func TestPidfileLock(t *testing.T) {
	dir := t.TempDir()
	lock, err := NewPidfile(dir, "demo")
	assert.NilError(t, err)
	assert.Equal(t, lock.Owner(), 0)

	assert.NilError(t, lock.Lock())
	assert.Equal(t, lock.Owner(), os.Getpid())

	other, err := NewPidfile(dir, "demo")
	assert.NilError(t, err)
	assert.Assert(t, other.Lock() != nil)

	assert.NilError(t, lock.Unlock())
	assert.Equal(t, lock.Owner(), 0)
	assert.NilError(t, lock.Unlock())
}
