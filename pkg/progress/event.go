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

package progress

import (
	"time"

	"github.com/docker/stackd/pkg/api"
)

// EventStatus indicates the status of an action
type EventStatus int

const (
	// Working means that the current task is working
	Working EventStatus = iota
	// Done means that the current task is done
	Done
	// Warning means that the current task has warning
	Warning
	// Error means that the current task has errored
	Error
)

func (s EventStatus) String() string {
	switch s {
	case Working:
		return "Working"
	case Warning:
		return "Warning"
	case Done:
		return "Done"
	default:
		return "Error"
	}
}

// Event represents a progress event.
type Event struct {
	ID      string
	Text    string
	Details string
	Status  EventStatus

	startTime time.Time
	endTime   time.Time
	spinner   *spinner
}

func (e *Event) stop() {
	e.endTime = time.Now()
	e.spinner.Stop()
}

// NewEvent new event
func NewEvent(id string, status EventStatus, text string) Event {
	return Event{
		ID:     id,
		Status: status,
		Text:   text,
	}
}

// FromNodeEvent renders a service state transition
func FromNodeEvent(e api.NodeEvent) Event {
	ev := NewEvent(e.Service, statusOf(e.State), stateText(e))
	if e.Err != nil {
		ev.Details = e.Err.Error()
	}
	return ev
}

func statusOf(state api.NodeState) EventStatus {
	switch state {
	case api.NodeReady, api.NodeStopped:
		return Done
	case api.NodeCrashed, api.NodeFailed:
		return Error
	default:
		return Working
	}
}

func stateText(e api.NodeEvent) string {
	switch e.State {
	case api.NodeAwaitingHealth:
		if e.Restarts > 0 {
			return "Restarted"
		}
		return "Waiting"
	case api.NodeReady:
		return "Healthy"
	default:
		return string(e.State)
	}
}
