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

	"github.com/docker/docker/pkg/pidfile"
	"github.com/mitchellh/go-ps"
)

func (f *Pidfile) Lock() error {
	newPID := os.Getpid()
	err := pidfile.Write(f.path, newPID)
	if err != nil {
		pid, errPid := pidfile.Read(f.path)
		if errPid != nil {
			return err
		}
		// the pid recorded in the file may be reported alive while it is not, double check with go-ps
		process, errPid := ps.FindProcess(pid)
		if process == nil && errPid == nil {
			_ = os.Remove(f.path)
			return pidfile.Write(f.path, newPID)
		}
	}
	return err
}
