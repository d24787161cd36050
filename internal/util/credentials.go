/*
Copyright 2018 The Ceph-CSI Authors.

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

import (
	"fmt"
	"os"
)

// Credentials represents the identity used to connect to a Ceph cluster:
// a client ID and the path to its keyring/keyfile. Unlike the Kubernetes
// CSI driver this is sourced from the peer's configuration context (base
// config, environment, extra_args), not from a Kubernetes secret.
type Credentials struct {
	ID      string
	KeyFile string
}

// DeleteCredentials removes the KeyFile from disk whenever KeyFile is set.
func (cr *Credentials) DeleteCredentials() {
	if cr.KeyFile == "" {
		return
	}
	// don't complain about unhandled error
	_ = os.Remove(cr.KeyFile)
}

// Validate checks that the credentials are usable.
func (cr *Credentials) Validate() error {
	if cr.ID == "" {
		return fmt.Errorf("%w: client id is empty", ErrInvalidArgument)
	}
	if cr.KeyFile == "" {
		return fmt.Errorf("%w: keyfile path is empty for client id %q", ErrInvalidArgument, cr.ID)
	}

	return nil
}
