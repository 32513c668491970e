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
	"context"
	"io"
	"sync"

	"github.com/moby/term"

	"github.com/docker/stackd/pkg/api"
)

// Writer can write multiple progress events
type Writer interface {
	Start(context.Context) error
	Stop()
	Event(Event)
	TailMsgf(string, ...interface{})
}

const (
	// ModeAuto detect console capabilities
	ModeAuto = "auto"
	// ModeTTY use terminal capability for advanced rendering
	ModeTTY = "tty"
	// ModePlain dump raw events to output
	ModePlain = "plain"
	// ModeQuiet don't display events
	ModeQuiet = "quiet"
	// ModeJSON outputs a machine-readable JSON stream
	ModeJSON = "json"
)

// Mode define how progress should be rendered, either as ModePlain or ModeTTY
var Mode = ModeAuto

// NewWriter returns a new multi-progress writer
func NewWriter(out io.Writer, progressTitle string) Writer {
	if Mode == ModeQuiet {
		return quiet{}
	}
	tty := Mode == ModeTTY
	if Mode == ModeAuto {
		if f, ok := out.(interface{ Fd() uintptr }); ok && term.IsTerminal(f.Fd()) {
			tty = true
		}
	}
	if tty {
		return newTTYWriter(out, progressTitle)
	}
	if Mode == ModeJSON {
		return &jsonWriter{out: out, done: make(chan bool)}
	}
	return &plainWriter{out: out, done: make(chan bool)}
}

// Listener forwards service state transitions to w
func Listener(w Writer) api.NodeEventListener {
	return func(e api.NodeEvent) {
		w.Event(FromNodeEvent(e))
	}
}

func newTTYWriter(out io.Writer, progressTitle string) Writer {
	return &ttyWriter{
		out:           out,
		events:        map[string]Event{},
		done:          make(chan bool),
		mtx:           &sync.Mutex{},
		progressTitle: progressTitle,
	}
}

type quiet struct{}

func (q quiet) Start(_ context.Context) error {
	return nil
}

func (q quiet) Stop() {
}

func (q quiet) Event(_ Event) {
}

func (q quiet) TailMsgf(_ string, _ ...interface{}) {
}
