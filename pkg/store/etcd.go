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
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/docker/stackd/pkg/api"
)

// RunKeyPrefix is the etcd key prefix run statuses are stored under
const RunKeyPrefix = "/stackd/runs/"

var _ Store = &EtcdStore{}

// EtcdStore publishes run statuses to etcd
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to etcd endpoints
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdStore{client: cli}, nil
}

func key(project string) string {
	return RunKeyPrefix + project
}

func (e *EtcdStore) Save(ctx context.Context, status *api.RunStatus) error {
	data, err := encode(status)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, key(status.Project), string(data))
	return err
}

func (e *EtcdStore) Load(ctx context.Context, project string) (*api.RunStatus, error) {
	resp, err := e.client.Get(ctx, key(project))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("no status for project %q: %w", project, api.ErrNotFound)
	}
	return decode(resp.Kvs[0].Value)
}

func (e *EtcdStore) Delete(ctx context.Context, project string) error {
	_, err := e.client.Delete(ctx, key(project))
	return err
}

// Watch turns the etcd watch of a project key into a status channel
func (e *EtcdStore) Watch(ctx context.Context, project string) (<-chan *api.RunStatus, error) {
	resp, err := e.client.Get(ctx, key(project))
	if err != nil {
		return nil, err
	}
	ch := make(chan *api.RunStatus)
	go func() {
		defer close(ch)
		send := func(data []byte) bool {
			status, err := decode(data)
			if err != nil {
				return true
			}
			select {
			case ch <- status:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if len(resp.Kvs) > 0 && !send(resp.Kvs[0].Value) {
			return
		}
		watchChan := e.client.Watch(ctx, key(project), clientv3.WithRev(resp.Header.Revision+1))
		for watchResp := range watchChan {
			for _, ev := range watchResp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				if !send(ev.Kv.Value) {
					return
				}
			}
		}
	}()
	return ch, nil
}

func (e *EtcdStore) Close() error {
	return e.client.Close()
}
