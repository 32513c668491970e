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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/moby/sys/atomicwriter"
	"github.com/sirupsen/logrus"

	"github.com/docker/stackd/pkg/api"
)

var _ Store = &FileStore{}

// FileStore keeps the status of each project as a json file in a directory
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore in dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(project string) string {
	return filepath.Join(s.dir, project+".json")
}

func (s *FileStore) Save(_ context.Context, status *api.RunStatus) error {
	data, err := encode(status)
	if err != nil {
		return err
	}
	return atomicwriter.WriteFile(s.path(status.Project), data, 0o644)
}

func (s *FileStore) Load(_ context.Context, project string) (*api.RunStatus, error) {
	data, err := os.ReadFile(s.path(project))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no status for project %q: %w", project, api.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *FileStore) Delete(_ context.Context, project string) error {
	err := os.Remove(s.path(project))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) Watch(ctx context.Context, project string) (<-chan *api.RunStatus, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// the directory is watched as the file is replaced on each write
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	target := s.path(project)
	ch := make(chan *api.RunStatus)
	send := func() bool {
		status, err := s.Load(ctx, project)
		if err != nil {
			if !api.IsNotFoundError(err) {
				logrus.Debugf("reading %s: %v", target, err)
			}
			return true
		}
		select {
		case ch <- status:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		defer w.Close() //nolint:errcheck
		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if !send() {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logrus.Debugf("watching %s: %v", s.dir, err)
			}
		}
	}()
	return ch, nil
}

func (s *FileStore) Close() error {
	return nil
}
