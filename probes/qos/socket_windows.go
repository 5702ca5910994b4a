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

//go:build windows

package qos

import (
	"net"
	"unsafe"

	"golang.org/x/sys/windows"
)

// sioUDPConnReset is WSAIoctl's SIO_UDP_CONNRESET control code. Issuing it
// with a false input buffer stops the stack from surfacing a prior
// send's ICMP port-unreachable as a WSAECONNRESET on a later, unrelated
// recv — the behavior §4.C step 1 calls out explicitly for Windows hosts.
const sioUDPConnReset = windows.IOC_IN | windows.IOC_VENDOR | 12

func disableConnReset(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var ctlErr error
	err = raw.Control(func(fd uintptr) {
		in := uint32(0)
		var bytesReturned uint32
		ctlErr = windows.WSAIoctl(
			windows.Handle(fd),
			sioUDPConnReset,
			(*byte)(unsafe.Pointer(&in)),
			uint32(unsafe.Sizeof(in)),
			nil,
			0,
			&bytesReturned,
			nil,
			0,
		)
	})
	if err != nil {
		return err
	}
	return ctlErr
}
