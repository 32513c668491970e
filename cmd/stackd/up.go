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

package stackd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docker/stackd/cmd/formatter"
	"github.com/docker/stackd/internal/metrics"
	"github.com/docker/stackd/pkg/api"
	ui "github.com/docker/stackd/pkg/progress"
)

type upOptions struct {
	*ProjectOptions
	timeout     time.Duration
	stopTimeout time.Duration
	noLogs      bool
	noColor     bool
	noPrefix    bool
}

func upCommand(p *ProjectOptions, backend *backendOptions, out, errOut io.Writer) *cobra.Command {
	opts := upOptions{ProjectOptions: p}
	cmd := &cobra.Command{
		Use:   "up [OPTIONS]",
		Short: "Start services in dependency order and supervise them until interrupted",
		Args:  cobra.NoArgs,
		RunE: Adapt(func(ctx context.Context, _ []string) error {
			return runUp(ctx, backend, opts, out, errOut)
		}),
	}
	flags := cmd.Flags()
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "Time each service has to become ready (default: derived from its health check)")
	flags.DurationVar(&opts.stopTimeout, "stop-timeout", 0, "Grace period of services which don't declare one")
	flags.BoolVar(&opts.noLogs, "no-logs", false, "Don't print services output, only state changes")
	flags.BoolVar(&opts.noColor, "no-color", false, "Produce monochrome output")
	flags.BoolVar(&opts.noPrefix, "no-log-prefix", false, "Don't print prefix in logs")
	return cmd
}

func runUp(ctx context.Context, backend *backendOptions, opts upOptions, out, errOut io.Writer) error {
	project, err := opts.ToProject(ctx)
	if err != nil {
		return err
	}
	service, closeFn, err := backend.newService()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	if backend.metricsAddr != "" {
		eg.Go(func() error {
			return metrics.Serve(ctx, backend.metricsAddr)
		})
	}

	options := api.UpOptions{
		Timeout:        opts.timeout,
		StopTimeout:    opts.stopTimeout,
		MaxConcurrency: backend.maxConcurrency(),
	}

	var listeners []api.NodeEventListener
	stopProgress := func() {}
	if opts.noLogs {
		w := ui.NewWriter(errOut, "Running")
		eg.Go(func() error {
			return w.Start(context.WithoutCancel(ctx))
		})
		stopProgress = w.Stop
		listeners = append(listeners, ui.Listener(w))
	} else {
		color := !opts.noColor && formatter.UseANSI(out, formatter.Auto)
		consumer := formatter.NewLogConsumer(ctx, out, errOut, color, !opts.noPrefix)
		options.LogConsumer = consumer
		listeners = append(listeners, func(e api.NodeEvent) {
			msg := string(e.State)
			if e.Err != nil {
				msg += ": " + e.Err.Error()
			}
			consumer.Status(e.Service, msg)
		})
	}
	if backend.dryRun {
		// nothing is really started, stop as soon as the whole stack is ready
		listeners = append(listeners, stopWhenReady(len(project.Services), errOut, cancel))
	}
	options.Listener = func(e api.NodeEvent) {
		for _, l := range listeners {
			l(e)
		}
	}

	upErr := service.Up(ctx, project, options)
	stopProgress()
	cancel()
	if err := eg.Wait(); err != nil {
		logrus.Warnf("metrics server: %v", err)
		if upErr == nil {
			return err
		}
	}
	return upErr
}

func stopWhenReady(count int, out io.Writer, stop context.CancelFunc) api.NodeEventListener {
	var (
		mu    sync.Mutex
		ready = map[string]bool{}
	)
	return func(e api.NodeEvent) {
		mu.Lock()
		defer mu.Unlock()
		if e.State != api.NodeReady {
			return
		}
		ready[e.Service] = true
		if len(ready) == count {
			_, _ = fmt.Fprintln(out, "dry run: all services are ready")
			stop()
		}
	}
}
