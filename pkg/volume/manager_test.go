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

package volume

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/docker/stackd/pkg/api"
)

func TestLeaseIsExclusive(t *testing.T) {
	m, err := NewManager(t.TempDir())
	assert.NilError(t, err)

	lease, err := m.Acquire("demo_data", "db-1")
	assert.NilError(t, err)

	_, err = m.Acquire("demo_data", "db-2")
	assert.ErrorIs(t, err, api.ErrVolumeInUse)
	assert.ErrorContains(t, err, "db-1")

	holder, ok := m.Holder("demo_data")
	assert.Assert(t, ok)
	assert.Equal(t, holder, "db-1")

	assert.NilError(t, lease.Release())
	assert.NilError(t, lease.Release())

	_, ok = m.Holder("demo_data")
	assert.Assert(t, !ok)

	lease, err = m.Acquire("demo_data", "db-2")
	assert.NilError(t, err)
	assert.NilError(t, lease.Release())
}

func TestLeaseHoldsAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	first, err := NewManager(dir)
	assert.NilError(t, err)
	second, err := NewManager(dir)
	assert.NilError(t, err)

	lease, err := first.Acquire("demo_cache", "redis-1")
	assert.NilError(t, err)
	defer lease.Release() //nolint:errcheck

	_, err = second.Acquire("demo_cache", "redis-2")
	assert.ErrorIs(t, err, api.ErrVolumeInUse)
	assert.Check(t, is.ErrorContains(err, "redis-1"))
}

func TestAcquireAllRollsBack(t *testing.T) {
	m, err := NewManager(t.TempDir())
	assert.NilError(t, err)

	held, err := m.Acquire("b", "other")
	assert.NilError(t, err)

	_, err = m.AcquireAll([]string{"a", "b"}, "svc")
	assert.ErrorIs(t, err, api.ErrVolumeInUse)

	_, ok := m.Holder("a")
	assert.Assert(t, !ok, "lease on a must have been released")

	assert.NilError(t, held.Release())
	leases, err := m.AcquireAll([]string{"a", "b"}, "svc")
	assert.NilError(t, err)
	assert.Check(t, is.Len(leases, 2))
	ReleaseAll(leases)
}
