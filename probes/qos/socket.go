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

package qos

import (
	"errors"
	"fmt"
	"net"

	"github.com/multiplay/qosprobe/internal/logging"
)

// socketBufferBytes is the send/receive buffer size requested from the
// kernel in step SOCKET_INIT (§4.C). The kernel may grant less; we log but
// don't fail when it does, matching cloudprober's udpsrv.Listen tolerance.
const socketBufferBytes = 65535

// ErrSocketUnavailable is the sentinel wrapped when socket creation fails,
// which aborts the run per §4.C step 1 / §7.
var ErrSocketUnavailable = errors.New("qos: socket unavailable")

// newSocket binds a UDP socket on 0.0.0.0:0, requests the spec's buffer
// sizes, and disables Windows' ICMP-triggered connection reset so a
// transient endpoint's port-unreachable doesn't poison later recvs.
func newSocket(l *logging.Logger) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSocketUnavailable, err)
	}

	if err := conn.SetReadBuffer(socketBufferBytes); err != nil {
		l.Warningf("qos: could not set read buffer to %d: %v", socketBufferBytes, err)
	}
	if err := conn.SetWriteBuffer(socketBufferBytes); err != nil {
		l.Warningf("qos: could not set write buffer to %d: %v", socketBufferBytes, err)
	}
	if err := disableConnReset(conn); err != nil {
		l.Warningf("qos: could not disable SIO_UDP_CONNRESET: %v", err)
	}

	return conn, nil
}

// isTransient reports whether err is a transient I/O condition (the
// EAGAIN/EWOULDBLOCK/ETIMEDOUT family referenced in §4.C step 3 / §7's
// TransientIo kind) that should be retried under the run's deadline rather
// than aborting the endpoint's send loop.
func isTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
