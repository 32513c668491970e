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
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/docker/stackd/pkg/api"
)

func TestFromNodeEvent(t *testing.T) {
	ev := FromNodeEvent(api.NodeEvent{Service: "db", State: api.NodeAwaitingHealth})
	assert.Equal(t, ev.Text, "Waiting")
	assert.Equal(t, ev.Status, Working)

	ev = FromNodeEvent(api.NodeEvent{Service: "db", State: api.NodeAwaitingHealth, Restarts: 1})
	assert.Equal(t, ev.Text, "Restarted")

	ev = FromNodeEvent(api.NodeEvent{Service: "db", State: api.NodeReady})
	assert.Equal(t, ev.Text, "Healthy")
	assert.Equal(t, ev.Status, Done)

	ev = FromNodeEvent(api.NodeEvent{Service: "db", State: api.NodeFailed, Err: errors.New("boom")})
	assert.Equal(t, ev.Status, Error)
	assert.Equal(t, ev.Details, "boom")
}

func TestPlainWriter(t *testing.T) {
	var out bytes.Buffer
	w := &plainWriter{out: &out, done: make(chan bool)}
	done := make(chan error)
	go func() {
		done <- w.Start(context.Background())
	}()

	listener := Listener(w)
	listener(api.NodeEvent{Service: "db", State: api.NodeStarting})
	listener(api.NodeEvent{Service: "db", State: api.NodeCrashed, Err: errors.New("exit 1")})
	w.TailMsgf("%d services", 1)
	w.Stop()
	assert.NilError(t, <-done)

	assert.Equal(t, out.String(), "db Starting\ndb Crashed exit 1\n1 services\n")
}

func TestJSONWriter(t *testing.T) {
	var out bytes.Buffer
	w := &jsonWriter{out: &out, done: make(chan bool)}
	w.Event(NewEvent("web", Done, "Healthy"))
	w.TailMsgf("bye")
	assert.Equal(t, out.String(),
		`{"id":"web","text":"Healthy","status":"Done"}`+"\n"+`{"tail":true,"text":"bye"}`+"\n")
}

func TestLineText(t *testing.T) {
	now := time.Now()
	ev := Event{
		ID:        "id",
		Text:      "Text",
		Status:    Working,
		endTime:   now,
		startTime: now,
		spinner: &spinner{
			chars: []string{"."},
		},
	}
	NoColor()

	out := lineText(ev, 30, len("id Text"))
	assert.Check(t, is.Equal(out, " . id Text "+strings.Repeat(" ", 14)+"0.0s \n"))
	assert.Equal(t, lenAnsi(strings.TrimSuffix(out, "\n")), 30)

	ev.Status = Error
	ev.Details = "failed\nbadly"
	out = lineText(ev, 40, len("id Text"))
	assert.Check(t, is.Contains(out, "✘ id Text failed badly"))
}

func TestTTYWriterTracksEvents(t *testing.T) {
	var out bytes.Buffer
	w := newTTYWriter(&out, "Running").(*ttyWriter)
	w.Event(NewEvent("db", Working, "Starting"))
	w.Event(NewEvent("db", Done, "Healthy"))
	w.Event(NewEvent("web", Working, "Starting"))
	assert.DeepEqual(t, w.eventIDs, []string{"db", "web"})
	assert.Equal(t, numDone(w.events), 1)
	assert.Assert(t, !w.events["db"].endTime.IsZero())

	w.print()
	assert.Check(t, is.Contains(out.String(), "[+] Running 1/2"))
}

func TestLenAnsi(t *testing.T) {
	assert.Equal(t, lenAnsi("\x1b[31mred\x1b[0m"), 3)
	assert.Equal(t, lenAnsi("\x1b[2Kok"), 2)
	assert.Equal(t, lenAnsi("\x1b]0;stackd\aok"), 2)
	assert.Equal(t, lenAnsi("\x1b[32m✔\x1b[0m db"), 4)
}
