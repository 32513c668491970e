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

package formatter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/docker/stackd/pkg/api"
)

// StatusHeaders are the columns of a run status table
var StatusHeaders = []string{"SERVICE", "STATE", "HEALTH", "RESTARTS", "UPTIME", "PORTS"}

// StatusWriter renders one row per service
func StatusWriter(status *api.RunStatus, now time.Time) func(w io.Writer) {
	return func(w io.Writer) {
		for _, n := range status.Nodes {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				n.Service, stateColumn(n), healthColumn(n.Health), n.Restarts, uptime(n, now), strings.Join(n.Ports, ", "))
		}
	}
}

func stateColumn(n api.NodeStatus) string {
	switch n.State {
	case api.NodeCrashed, api.NodeStopped:
		if n.ExitCode != 0 {
			return fmt.Sprintf("%s (%d)", n.State, n.ExitCode)
		}
	}
	return string(n.State)
}

func healthColumn(h api.Health) string {
	if h == api.HealthNone {
		return "-"
	}
	return string(h)
}

func uptime(n api.NodeStatus, now time.Time) string {
	if n.StartedAt.IsZero() || !n.State.IsRunning() {
		return "-"
	}
	return units.HumanDuration(now.Sub(n.StartedAt))
}
