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

package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/moby/sys/atomicwriter"
	"github.com/sirupsen/logrus"

	"github.com/docker/stackd/pkg/api"
)

// Manager hands out exclusive leases on named volumes. Leases are advisory
// locks on a file per volume, so they hold across processes driving the
// same state directory.
type Manager struct {
	dir     string
	mu      sync.Mutex
	holders map[string]*Lease
}

// Lease is the right for one instance to mount a volume
type Lease struct {
	Volume string
	Holder string

	manager *Manager
	lock    *flock.Flock
	once    sync.Once
}

// NewManager creates a Manager keeping lock files under dir
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{
		dir:     dir,
		holders: map[string]*Lease{},
	}, nil
}

func (m *Manager) lockPath(volume string) string {
	return filepath.Join(m.dir, volume+".lock")
}

func (m *Manager) holderPath(volume string) string {
	return filepath.Join(m.dir, volume+".holder")
}

// Acquire takes the lease on volume for holder, failing with api.ErrVolumeInUse
// if another instance holds it.
func (m *Manager) Acquire(volume, holder string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.holders[volume]; ok {
		return nil, fmt.Errorf("volume %q is mounted by %s: %w", volume, current.Holder, api.ErrVolumeInUse)
	}

	lock := flock.New(m.lockPath(volume))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking volume %q: %w", volume, err)
	}
	if !locked {
		return nil, fmt.Errorf("volume %q is mounted by %s: %w", volume, m.readHolder(volume), api.ErrVolumeInUse)
	}
	if err := atomicwriter.WriteFile(m.holderPath(volume), []byte(holder), 0o644); err != nil {
		logrus.WithError(err).Warnf("failed to record holder of volume %q", volume)
	}

	lease := &Lease{
		Volume:  volume,
		Holder:  holder,
		manager: m,
		lock:    lock,
	}
	m.holders[volume] = lease
	logrus.WithFields(logrus.Fields{"volume": volume, "holder": holder}).Debug("volume lease acquired")
	return lease, nil
}

// AcquireAll takes the leases of all volumes, releasing the ones already taken on failure
func (m *Manager) AcquireAll(volumes []string, holder string) ([]*Lease, error) {
	var leases []*Lease
	for _, v := range volumes {
		lease, err := m.Acquire(v, holder)
		if err != nil {
			ReleaseAll(leases)
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

// Release gives the lease back. Releasing twice is a no-op.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		m := l.manager
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.holders[l.Volume] == l {
			delete(m.holders, l.Volume)
		}
		_ = os.Remove(m.holderPath(l.Volume))
		err = l.lock.Unlock()
		logrus.WithFields(logrus.Fields{"volume": l.Volume, "holder": l.Holder}).Debug("volume lease released")
	})
	return err
}

// ReleaseAll releases leases, ignoring errors
func ReleaseAll(leases []*Lease) {
	for _, l := range leases {
		if err := l.Release(); err != nil {
			logrus.WithError(err).Warnf("failed to release volume %q", l.Volume)
		}
	}
}

// Holder returns the instance holding volume, checking other processes too
func (m *Manager) Holder(volume string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.holders[volume]; ok {
		return l.Holder, true
	}
	probe := flock.New(m.lockPath(volume))
	locked, err := probe.TryLock()
	if err != nil {
		return "", false
	}
	if locked {
		_ = probe.Unlock()
		return "", false
	}
	return m.readHolder(volume), true
}

func (m *Manager) readHolder(volume string) string {
	b, err := os.ReadFile(m.holderPath(volume))
	if err != nil {
		return "another process"
	}
	return strings.TrimSpace(string(b))
}
