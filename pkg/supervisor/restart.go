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

package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/docker/stackd/pkg/api"
)

// normalizePolicy fills the unset fields of a restart policy with defaults.
// A restart policy always has a bounded backoff and a bounded budget.
func normalizePolicy(p api.RestartPolicy) api.RestartPolicy {
	d := api.DefaultRestartPolicy()
	if p.Condition == "" {
		p.Condition = d.Condition
	}
	if p.Delay <= 0 {
		p.Delay = d.Delay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = p.Delay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Window <= 0 {
		p.Window = d.Window
	}
	return p
}

func newBackOff(p api.RestartPolicy, clock clockwork.Clock) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Delay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clock,
	}
	b.Reset()
	return b
}

// restartWindow counts restarts over a sliding window
type restartWindow struct {
	width    time.Duration
	restarts []time.Time
}

// exhausted tells if limit restarts already happened within the window ending at now
func (w *restartWindow) exhausted(now time.Time, limit int) bool {
	cutoff := now.Add(-w.width)
	kept := w.restarts[:0]
	for _, t := range w.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.restarts = kept
	return len(w.restarts) >= limit
}

func (w *restartWindow) record(t time.Time) {
	w.restarts = append(w.restarts, t)
}
