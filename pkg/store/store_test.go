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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/stackd/pkg/api"
)

func TestFileStoreSaveLoad(t *testing.T) {
	ctx := t.Context()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load(ctx, "demo")
	assert.ErrorIs(t, err, api.ErrNotFound)

	status := &api.RunStatus{
		Project: "demo",
		RunID:   "r1",
		State:   api.RunRunning,
		Nodes: []api.NodeStatus{
			{Service: "db", State: api.NodeReady, Health: api.HealthHealthy},
			{Service: "web", State: api.NodeStarting},
		},
	}
	require.NoError(t, s.Save(ctx, status))

	loaded, err := s.Load(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, status.RunID, loaded.RunID)
	assert.Equal(t, status.Nodes, loaded.Nodes)

	require.NoError(t, s.Delete(ctx, "demo"))
	require.NoError(t, s.Delete(ctx, "demo"))
	_, err = s.Load(ctx, "demo")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestFileStoreWatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, &api.RunStatus{Project: "demo", State: api.RunLaunching}))

	ch, err := s.Watch(ctx, "demo")
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, api.RunLaunching, first.State)

	require.NoError(t, s.Save(ctx, &api.RunStatus{Project: "other", State: api.RunRunning}))
	require.NoError(t, s.Save(ctx, &api.RunStatus{Project: "demo", State: api.RunRunning}))

	for {
		select {
		case status, ok := <-ch:
			require.True(t, ok, "watch closed")
			require.Equal(t, "demo", status.Project)
			if status.State == api.RunRunning {
				cancel()
				for range ch {
				}
				return
			}
		case <-ctx.Done():
			t.Fatal("no update received")
		}
	}
}
