/*
Copyright 2019 The Ceph-CSI Authors.

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

package util

import "errors"

// ErrInvalidArgument is returned when a configuration value or credential
// supplied to the peer cannot be parsed or is missing.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrPoolNotFound is returned when a pool is not found on a cluster handle.
type ErrPoolNotFound struct {
	Pool string
	Err  error
}

// Error returns the error string for ErrPoolNotFound.
func (e ErrPoolNotFound) Error() string {
	return e.Err.Error()
}

// Unwrap returns the encapsulated error.
func (e ErrPoolNotFound) Unwrap() error {
	return e.Err
}

// NewErrPoolNotFound returns a new ErrPoolNotFound error.
func NewErrPoolNotFound(pool string, err error) ErrPoolNotFound {
	return ErrPoolNotFound{pool, err}
}

// ErrObjectNotFound is returned when a named rados object (the mirroring
// directory, the per-pool mirroring metadata object, ...) is not found.
type ErrObjectNotFound struct {
	ObjectName string
	Err        error
}

// Error returns the error string for ErrObjectNotFound.
func (e ErrObjectNotFound) Error() string {
	return e.Err.Error()
}

// Unwrap returns the encapsulated error.
func (e ErrObjectNotFound) Unwrap() error {
	return e.Err
}
