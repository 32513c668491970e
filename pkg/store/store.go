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
	"encoding/json"

	"github.com/docker/stackd/pkg/api"
)

// Store persists the status of runs so operators can observe them from another process
type Store interface {
	// Save publishes the current status of a run
	Save(ctx context.Context, status *api.RunStatus) error
	// Load returns the last published status of a project, or api.ErrNotFound
	Load(ctx context.Context, project string) (*api.RunStatus, error)
	// Delete forgets the status of a project
	Delete(ctx context.Context, project string) error
	// Watch sends the status of a project each time it changes, starting with the current one.
	// The channel is closed once ctx is done.
	Watch(ctx context.Context, project string) (<-chan *api.RunStatus, error)
	Close() error
}

func encode(status *api.RunStatus) ([]byte, error) {
	return json.MarshalIndent(status, "", "  ")
}

func decode(data []byte) (*api.RunStatus, error) {
	var status api.RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
