// Copyright 2024 The Qosprobe Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build !windows

package qos

import "net"

// disableConnReset is a no-op outside Windows: SIO_UDP_CONNRESET is a
// Winsock-specific control code, and POSIX sockets don't surface ICMP
// port-unreachables as persistent connection errors on an unconnected UDP
// socket in the first place.
func disableConnReset(*net.UDPConn) error {
	return nil
}
