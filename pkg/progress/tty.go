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
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/acarl005/stripansi"
	"github.com/moby/term"
	"github.com/morikuni/aec"
)

type ttyWriter struct {
	out           io.Writer
	events        map[string]Event
	eventIDs      []string
	repeated      bool
	numLines      int
	done          chan bool
	mtx           *sync.Mutex
	tailEvents    []string
	progressTitle string
}

func (w *ttyWriter) Start(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.print()
			w.printTailEvents()
			return ctx.Err()
		case <-w.done:
			w.print()
			w.printTailEvents()
			return nil
		case <-ticker.C:
			w.print()
		}
	}
}

func (w *ttyWriter) Stop() {
	w.done <- true
}

func (w *ttyWriter) Event(e Event) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if !slices.Contains(w.eventIDs, e.ID) {
		w.eventIDs = append(w.eventIDs, e.ID)
	}
	last, ok := w.events[e.ID]
	if !ok {
		e.startTime = time.Now()
		e.spinner = newSpinner()
		if e.Status != Working {
			e.stop()
		}
		w.events[e.ID] = e
		return
	}
	switch {
	case e.Status != Working && last.Status != e.Status:
		last.stop()
	case e.Status == Working && last.Status != Working:
		// restarted
		last.startTime = time.Now()
		last.endTime = time.Time{}
		last.spinner.Restart()
	}
	last.Status = e.Status
	last.Text = e.Text
	last.Details = e.Details
	w.events[e.ID] = last
}

func (w *ttyWriter) TailMsgf(msg string, args ...interface{}) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.tailEvents = append(w.tailEvents, fmt.Sprintf(msg, args...))
}

func (w *ttyWriter) printTailEvents() {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	for _, msg := range w.tailEvents {
		_, _ = fmt.Fprintln(w.out, msg)
	}
}

func (w *ttyWriter) print() {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if len(w.eventIDs) == 0 {
		return
	}
	terminalWidth := w.width()
	b := aec.EmptyBuilder
	for i := 0; i <= w.numLines; i++ {
		b = b.Up(1)
	}
	if !w.repeated {
		b = b.Down(1)
	}
	w.repeated = true
	_, _ = fmt.Fprint(w.out, b.Column(0).ANSI)

	// Hide the cursor while we are printing
	_, _ = fmt.Fprint(w.out, aec.Hide)
	defer fmt.Fprint(w.out, aec.Show) //nolint:errcheck

	done := numDone(w.events)
	firstLine := fmt.Sprintf("[+] %s %d/%d", w.progressTitle, done, len(w.eventIDs))
	if done == len(w.eventIDs) {
		firstLine = DoneColor(firstLine)
	}
	_, _ = fmt.Fprintln(w.out, firstLine)

	var statusPadding int
	for _, id := range w.eventIDs {
		event := w.events[id]
		if l := len(fmt.Sprintf("%s %s", event.ID, event.Text)); statusPadding < l {
			statusPadding = l
		}
	}

	for _, id := range w.eventIDs {
		_, _ = fmt.Fprint(w.out, lineText(w.events[id], terminalWidth, statusPadding))
	}
	w.numLines = len(w.eventIDs)
}

func (w *ttyWriter) width() int {
	if f, ok := w.out.(interface{ Fd() uintptr }); ok {
		if ws, err := term.GetWinsize(f.Fd()); err == nil && ws.Width > 0 {
			return int(ws.Width)
		}
	}
	return 80
}

func lineText(event Event, terminalWidth, statusPadding int) string {
	endTime := time.Now()
	if event.Status != Working {
		endTime = event.startTime
		if !event.endTime.IsZero() {
			endTime = event.endTime
		}
	}
	elapsed := endTime.Sub(event.startTime).Seconds()

	textLen := len(fmt.Sprintf("%s %s", event.ID, event.Text))
	padding := max(statusPadding-textLen, 0)
	details := event.Details
	// errors may span several lines and break the layout
	if maxLen := terminalWidth - statusPadding - 15; maxLen > 0 && len(details) > maxLen {
		details = details[:maxLen] + "..."
	}
	details = strings.ReplaceAll(details, "\n", " ")

	var text string
	switch event.Status {
	case Done:
		text = fmt.Sprintf(" %s %s %s%s %s", SuccessColor(event.spinner.String()), event.ID, SuccessColor(event.Text), strings.Repeat(" ", padding), details)
	case Error:
		text = fmt.Sprintf(" %s %s %s%s %s", ErrorColor("✘"), event.ID, ErrorColor(event.Text), strings.Repeat(" ", padding), ErrorColor(details))
	case Warning:
		text = fmt.Sprintf(" %s %s %s%s %s", WarningColor("!"), event.ID, WarningColor(event.Text), strings.Repeat(" ", padding), details)
	default:
		text = fmt.Sprintf(" %s %s %s%s %s", CountColor(event.spinner.String()), event.ID, event.Text, strings.Repeat(" ", padding), details)
	}
	timer := fmt.Sprintf("%.1fs ", elapsed)
	return align(text, TimerColor(timer), terminalWidth) + "\n"
}

func numDone(events map[string]Event) int {
	i := 0
	for _, e := range events {
		if e.Status != Working {
			i++
		}
	}
	return i
}

func align(l, r string, w int) string {
	ll := lenAnsi(l)
	lr := lenAnsi(r)
	pad := ""
	count := w - ll - lr
	if count > 0 {
		pad = strings.Repeat(" ", count)
	}
	return fmt.Sprintf("%s%s%s", l, pad, r)
}

func lenAnsi(s string) int {
	return utf8.RuneCountInString(stripansi.Strip(s))
}
