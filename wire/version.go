/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package wire

import (
	version "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
)

// CheckVersion compares a peer's advertised protocol version against
// ProtocolVersion and logs a warning on any mismatch. This is observability
// only: the message is always still delivered to the normal dispatch chain,
// major mismatch or not. There is no authentication or integrity
// enforcement on the wire format.
func CheckVersion(remote string) {
	if remote == "" || remote == ProtocolVersion {
		return
	}
	local, err := version.NewVersion(ProtocolVersion)
	if err != nil {
		return
	}
	peer, err := version.NewVersion(remote)
	if err != nil {
		log.Warningf("wire: peer advertised unparseable protocol version %q", remote)
		return
	}
	if peer.Segments()[0] != local.Segments()[0] {
		log.Warningf("wire: peer protocol version %s has a different major version than ours (%s)", remote, ProtocolVersion)
		return
	}
	log.Warningf("wire: peer protocol version %s differs from ours (%s)", remote, ProtocolVersion)
}
