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

package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docker/stackd/pkg/api"
)

type checker interface {
	check(ctx context.Context) error
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		// a redirect response counts as ready
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (p *Prober) checker(spec api.ServiceSpec, instanceID string) (checker, error) {
	hc := spec.HealthCheck
	if len(hc.Test) > 0 {
		command, err := testCommand(hc.Test)
		if err != nil {
			return nil, err
		}
		return &commandChecker{execer: p.execer, instance: instanceID, command: command}, nil
	}

	u, err := url.Parse(hc.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid readiness endpoint %q: %w", hc.Endpoint, err)
	}
	switch u.Scheme {
	case "http", "https":
		return &httpChecker{client: p.client, url: u.String()}, nil
	case "tcp":
		return &tcpChecker{address: u.Host}, nil
	default:
		return nil, fmt.Errorf("unsupported readiness endpoint scheme %q", u.Scheme)
	}
}

// testCommand converts a health check test into the command to run
func testCommand(test []string) ([]string, error) {
	switch test[0] {
	case "CMD":
		if len(test) < 2 {
			return nil, fmt.Errorf("health check CMD has no command")
		}
		return test[1:], nil
	case "CMD-SHELL":
		if len(test) < 2 {
			return nil, fmt.Errorf("health check CMD-SHELL has no command")
		}
		return []string{"/bin/sh", "-c", strings.Join(test[1:], " ")}, nil
	default:
		return test, nil
	}
}

type commandChecker struct {
	execer   Execer
	instance string
	command  []string
}

func (c *commandChecker) check(ctx context.Context) error {
	if c.execer == nil {
		return fmt.Errorf("runtime cannot execute health check commands")
	}
	code, output, err := c.execer.Exec(ctx, c.instance, c.command)
	if err != nil {
		return err
	}
	if code != 0 {
		output = strings.TrimSpace(output)
		if output == "" {
			return fmt.Errorf("health check exited with code %d", code)
		}
		return fmt.Errorf("health check exited with code %d: %s", code, output)
	}
	return nil
}

type httpChecker struct {
	client *http.Client
	url    string
}

func (c *httpChecker) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s: %s", c.url, resp.Status)
	}
	return nil
}

type tcpChecker struct {
	address string
}

func (c *tcpChecker) check(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return err
	}
	return conn.Close()
}
