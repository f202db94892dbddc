// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kittinap/kunnjae/internal/codec"
	"github.com/kittinap/kunnjae/internal/wire"
)

// dial connects to sandboxcore's control-plane socket.
func dial(socketPath string) (*net.UnixConn, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	return conn.(*net.UnixConn), nil
}

// call sends one request and decodes its response payload into out
// (which may be nil). Each connection is one request-response cycle,
// matching internal/ipcserver's contract.
func call(socketPath string, verb wire.Verb, body any, out any) error {
	conn, err := dial(socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	req, err := wire.EncodeRequest(verb, body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	var resp wire.Response
	if err := codec.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.Code != wire.Success {
		return fmt.Errorf("%s: %s (%s)", verb, resp.Error, resp.Code)
	}
	if out != nil {
		return resp.DecodePayload(out)
	}
	return nil
}

// callWithFD sends one request carrying sendFD as SCM_RIGHTS ancillary
// data, and returns both the decoded response and any fd the server
// sent back the same way. Used for set_report_queue_notification_port
// (client -> server fd) and get_report_queue_memory_descriptor
// (server -> client fd).
func callWithFD(conn *net.UnixConn, verb wire.Verb, body any, sendFD int) (wire.Response, int, error) {
	req, err := wire.EncodeRequest(verb, body)
	if err != nil {
		return wire.Response{}, 0, fmt.Errorf("encoding request: %w", err)
	}
	payload, err := codec.Marshal(req)
	if err != nil {
		return wire.Response{}, 0, fmt.Errorf("marshaling request: %w", err)
	}

	var oob []byte
	if sendFD != 0 {
		oob = unix.UnixRights(sendFD)
	}
	if _, _, err := conn.WriteMsgUnix(payload, oob, nil); err != nil {
		return wire.Response{}, 0, fmt.Errorf("writing request: %w", err)
	}

	buf := make([]byte, 64*1024)
	rOob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(buf, rOob)
	if err != nil {
		return wire.Response{}, 0, fmt.Errorf("reading response: %w", err)
	}

	var resp wire.Response
	if err := codec.Unmarshal(buf[:n], &resp); err != nil {
		return wire.Response{}, 0, fmt.Errorf("decoding response: %w", err)
	}

	recvFD := 0
	if oobn > 0 {
		if messages, err := unix.ParseSocketControlMessage(rOob[:oobn]); err == nil {
			for _, msg := range messages {
				if fds, err := unix.ParseUnixRights(&msg); err == nil && len(fds) > 0 {
					recvFD = fds[0]
					break
				}
			}
		}
	}

	return resp, recvFD, nil
}
