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
	"time"

	"github.com/spf13/cobra"

	"github.com/docker/stackd/pkg/api"
)

type downOptions struct {
	*ProjectOptions
	timeout time.Duration
}

func downCommand(p *ProjectOptions, backend *backendOptions, errOut io.Writer) *cobra.Command {
	opts := downOptions{ProjectOptions: p}
	cmd := &cobra.Command{
		Use:   "down [OPTIONS]",
		Short: "Stop a running project and remove what it left behind",
		Args:  cobra.NoArgs,
		RunE: Adapt(func(ctx context.Context, _ []string) error {
			return runDown(ctx, backend, opts, errOut)
		}),
	}
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", time.Minute, "Time to wait for the project to stop")
	return cmd
}

func runDown(ctx context.Context, backend *backendOptions, opts downOptions, errOut io.Writer) error {
	project, name, err := opts.projectOrName(ctx)
	if err != nil {
		return err
	}
	service, closeFn, err := backend.newService()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := service.Down(ctx, name, api.DownOptions{Project: project, Timeout: opts.timeout}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(errOut, "project %s is down\n", name)
	return nil
}
