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

package api

import (
	"fmt"

	"github.com/hashicorp/go-version"

	"github.com/docker/stackd/internal"
)

const (
	// ProjectLabel allow to track resource related to a stack project
	ProjectLabel = "com.docker.stackd.project"
	// ServiceLabel allow to track resource related to a stack service
	ServiceLabel = "com.docker.stackd.service"
	// RunLabel stores the id of the run which started a resource
	RunLabel = "com.docker.stackd.run"
	// VolumeLabel allow to track resource related to a stack volume
	VolumeLabel = "com.docker.stackd.volume"
	// NetworkOwnerLabel stores the service owning the network namespace a container joined
	NetworkOwnerLabel = "com.docker.stackd.network-owner"
	// DependenciesLabel stores service dependencies
	DependenciesLabel = "com.docker.stackd.depends_on"
	// VersionLabel stores the stackd version used to run application
	VersionLabel = "com.docker.stackd.version"
)

// StackdVersion is the stackd version as declared by label VersionLabel
var StackdVersion string

func init() {
	StackdVersion = coreVersion(internal.Version)
}

func coreVersion(v string) string {
	parsed, err := version.NewVersion(v)
	if err != nil {
		return ""
	}
	segments := parsed.Segments()
	if len(segments) < 3 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", segments[0], segments[1], segments[2])
}

// ProjectFilter returns the label filter value matching resources of a project
func ProjectFilter(project string) string {
	return fmt.Sprintf("%s=%s", ProjectLabel, project)
}

// ServiceFilter returns the label filter value matching resources of a service
func ServiceFilter(service string) string {
	return fmt.Sprintf("%s=%s", ServiceLabel, service)
}
