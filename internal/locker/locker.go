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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/pkg/pidfile"
)

// Pidfile records which process supervises a project
type Pidfile struct {
	path string
}

// NewPidfile returns the pid file of project under dir
func NewPidfile(dir, projectName string) (*Pidfile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.pid", projectName))
	return &Pidfile{path: path}, nil
}

// Unlock removes the pid file if it still names the current process
func (f *Pidfile) Unlock() error {
	pid, err := pidfile.Read(f.path)
	if err != nil || pid != os.Getpid() {
		return nil
	}
	err = os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Owner returns the pid of the live process holding the pid file, or 0
func (f *Pidfile) Owner() int {
	pid, err := pidfile.Read(f.path)
	if err != nil {
		return 0
	}
	return pid
}
