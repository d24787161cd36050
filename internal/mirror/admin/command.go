/*
Copyright 2024 The Ceph-CSI Authors.

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

// Package admin defines the tagged administrative command surface:
// status/start/stop/restart/flush, dispatched through a single table
// instead of the one-polymorphic-handler-per-verb pattern spec.md §9
// flags for re-architecture.
package admin

// Command is one of the five administrative verbs, serialized through the
// supervisor lock by the Peer that implements Dispatch.
type Command int

const (
	Status Command = iota
	Start
	Stop
	Restart
	Flush
)

func (c Command) String() string {
	switch c {
	case Status:
		return "status"
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Restart:
		return "restart"
	case Flush:
		return "flush"
	default:
		return "unknown"
	}
}

// ParseCommand maps a CLI verb name to its Command tag by looking it up in
// the registration table; adminsock uses it to decode incoming requests.
func ParseCommand(verb string) (Command, bool) {
	for _, entry := range registrations {
		if entry.verb == verb {
			return entry.cmd, true
		}
	}

	return 0, false
}

type registration struct {
	verb string
	cmd  Command
}

// registrations is the dispatch table spec.md §9 asks for in place of one
// polymorphic handler class per verb.
var registrations = []registration{
	{"status", Status},
	{"start", Start},
	{"stop", Stop},
	{"restart", Restart},
	{"flush", Flush},
}

// OutputFormat selects how Dispatch renders its result document.
type OutputFormat int

const (
	Human OutputFormat = iota
	JSON
)
