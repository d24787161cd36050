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

package mirror

import "errors"

// ErrInvalidArgument is returned from init() when the peer client identity
// or its configuration cannot be parsed.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrConfigParse is returned from init() on a base-configuration, environment
// or extra_args parse failure.
var ErrConfigParse = errors.New("configuration parse error")

// ErrConnectFailure wraps a transport-level failure to connect the remote
// cluster handle.
type ErrConnectFailure struct {
	Peer string
	Err  error
}

func (e *ErrConnectFailure) Error() string { return "connect " + e.Peer + ": " + e.Err.Error() }
func (e *ErrConnectFailure) Unwrap() error { return e.Err }

// ErrTransientStorage marks a pool-scoped failure (open, list, or metadata
// read) that is logged and retried on the next reconciliation tick rather
// than propagated.
type ErrTransientStorage struct {
	Pool string
	Err  error
}

func (e *ErrTransientStorage) Error() string { return "pool " + e.Pool + ": " + e.Err.Error() }
func (e *ErrTransientStorage) Unwrap() error { return e.Err }

// ErrWatchError marks a status-watch register/unregister failure.
type ErrWatchError struct {
	Pool string
	Op   string
	Err  error
}

func (e *ErrWatchError) Error() string {
	return "watch " + e.Op + " for pool " + e.Pool + ": " + e.Err.Error()
}
func (e *ErrWatchError) Unwrap() error { return e.Err }

// ErrDeletionPending names the retryable, non-terminal deletion outcome.
// The ImageDeleter contract does not return it: WaitForScheduledDeletion
// reports that outcome as a negative int result to its completion.
var ErrDeletionPending = errors.New("deletion pending")
