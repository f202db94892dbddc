// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ipcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kittinap/kunnjae/internal/codec"
	"github.com/kittinap/kunnjae/internal/core"
	"github.com/kittinap/kunnjae/internal/reportqueue"
	"github.com/kittinap/kunnjae/internal/shm"
	"github.com/kittinap/kunnjae/internal/wire"
)

// readTimeout bounds how long a connection may take to send its
// request, same rationale and value as the teacher's
// lib/service.SocketServer.
const readTimeout = 30 * time.Second

// writeTimeout bounds how long a connection may take to accept its
// response.
const writeTimeout = 10 * time.Second

// maxRequestSize caps a single CBOR request. track_root's FAM bytes
// are the largest payload this protocol carries; 1 MiB is generous for
// any manifest spec.md §3 describes.
const maxRequestSize = 1024 * 1024

// Server serves core.Core's control-plane RPCs on a Unix socket.
type Server struct {
	core       *core.Core
	socketPath string
	logger     *slog.Logger

	// onTrackRoot, if set, runs after a track_root call succeeds. This
	// is how cmd/sandboxcore starts a process tracer for the new root
	// pid: internal/core stays free of internal/ptracedriver (Linux- and
	// amd64-only) so it can be built and tested on any platform.
	onTrackRoot func(clientPID, rootPID int, pipID uint64)

	mu        sync.Mutex
	notifyFDs map[int]int // clientPID -> eventfd, registered by set_report_queue_notification_port

	active sync.WaitGroup
}

// New returns a Server that will listen on socketPath once Serve is
// called.
func New(c *core.Core, socketPath string, logger *slog.Logger) *Server {
	return &Server{
		core:       c,
		socketPath: socketPath,
		logger:     logger,
		notifyFDs:  make(map[int]int),
	}
}

// OnTrackRoot registers fn to run after every successful track_root
// call, passing the pip's client pid, root pid, and assigned pip id.
func (s *Server) OnTrackRoot(fn func(clientPID, rootPID int, pipID uint64)) {
	s.onTrackRoot = fn
}

// Serve accepts connections on the configured Unix socket until ctx is
// canceled, then waits for in-flight connections to finish. Grounded on
// lib/service.SocketServer.Serve: remove any stale socket file, listen,
// accept in a loop, one goroutine per connection.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipcserver: removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipcserver: listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("ipcserver listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("ipcserver: accept failed", "error", err)
			continue
		}

		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, unixConn)
		}()
	}

	s.active.Wait()
	return nil
}

// handleConnection processes one request, replies once, and closes the
// connection — the same one-shot request/response contract as the
// teacher's SocketServer, extended here to ferry an fd alongside the
// CBOR payload for the two out-of-band verbs.
func (s *Server) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(readTimeout))

	buf := make([]byte, maxRequestSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		s.logger.Debug("ipcserver: read failed", "error", err)
		return
	}

	var req wire.Request
	if err := codec.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, wire.ErrorResponse(wire.InvalidArgument, fmt.Sprintf("invalid request: %v", err)))
		return
	}

	switch req.Verb {
	case wire.VerbSetReportQueueNotificationPort:
		s.handleSetNotificationPort(ctx, conn, req, oob[:oobn])
	case wire.VerbGetReportQueueMemoryDescriptor:
		s.handleGetMemoryDescriptor(ctx, conn, req)
	case wire.VerbTrackRoot:
		s.handleTrackRoot(conn, req)
	default:
		s.writeResponse(conn, s.core.Handle(req))
	}
}

func (s *Server) handleTrackRoot(conn *net.UnixConn, req wire.Request) {
	resp := s.core.Handle(req)
	s.writeResponse(conn, resp)

	if resp.Code != wire.Success || s.onTrackRoot == nil {
		return
	}

	var body wire.TrackRootRequest
	if err := req.DecodePayload(&body); err != nil {
		return
	}
	var trackResp wire.TrackRootResponse
	if err := resp.DecodePayload(&trackResp); err != nil {
		return
	}

	s.onTrackRoot(body.ClientPID, body.RootPID, trackResp.PipID)
}

func (s *Server) handleSetNotificationPort(ctx context.Context, conn *net.UnixConn, req wire.Request, oob []byte) {
	var body wire.SetReportQueueNotificationPortRequest
	if err := req.DecodePayload(&body); err != nil {
		s.writeResponse(conn, wire.ErrorResponse(wire.InvalidArgument, err.Error()))
		return
	}

	fd, err := receiveFD(oob)
	if err != nil {
		s.writeResponse(conn, wire.ErrorResponse(wire.InvalidArgument, fmt.Sprintf("notification port: %v", err)))
		return
	}

	notify := make(chan struct{}, 1)
	if code := s.core.SetReportQueueNotificationPort(body.ClientPID, notify); code != wire.Success {
		unix.Close(fd)
		s.writeResponse(conn, wire.ErrorResponse(code, "queue not found for client"))
		return
	}

	s.mu.Lock()
	if old, ok := s.notifyFDs[body.ClientPID]; ok {
		unix.Close(old)
	}
	s.notifyFDs[body.ClientPID] = fd
	s.mu.Unlock()

	go pumpEventFD(ctx, notify, fd)

	s.writeResponse(conn, wire.Response{Code: wire.Success})
}

// pumpEventFD relays every notify signal across the process boundary as
// an eventfd write: eventfd semantics add the 8-byte little-endian
// value to an in-kernel counter, which is exactly the "something was
// enqueued" signal a client epoll()ing the fd needs, and it naturally
// coalesces concurrent notifications the way a channel send would.
// pumpEventFD returns once ctx is canceled (server shutdown) or the
// write fails (client gone).
func pumpEventFD(ctx context.Context, notify <-chan struct{}, fd int) {
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
			if _, err := unix.Write(fd, one); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleGetMemoryDescriptor(ctx context.Context, conn *net.UnixConn, req wire.Request) {
	var body wire.GetReportQueueMemoryDescriptorRequest
	if err := req.DecodePayload(&body); err != nil {
		s.writeResponse(conn, wire.ErrorResponse(wire.InvalidArgument, err.Error()))
		return
	}

	ring, code := s.core.GetReportQueueMemoryDescriptor(body.ClientPID)
	if code != wire.Success {
		s.writeResponse(conn, wire.ErrorResponse(code, "no unclaimed report queue for client"))
		return
	}

	sizeBytes := ringHeaderBytes + ring.Capacity()*wire.ReportSize
	segment, err := shm.New(fmt.Sprintf("sandboxcore-reportqueue-%d", body.ClientPID), sizeBytes)
	if err != nil {
		s.writeResponse(conn, wire.ErrorResponse(wire.ResourceExhausted, err.Error()))
		return
	}

	s.mu.Lock()
	notifyFD := s.notifyFDs[body.ClientPID]
	s.mu.Unlock()

	go forwardRing(ctx, ring, segment, notifyFD)

	resp, err := wire.EncodeResponse(wire.GetReportQueueMemoryDescriptorResponse{
		SizeBytes:     int64(sizeBytes),
		CapacityItems: ring.Capacity(),
	})
	if err != nil {
		segment.Close()
		s.writeResponse(conn, wire.ErrorResponse(wire.InvalidArgument, err.Error()))
		return
	}

	s.writeResponseWithFD(conn, resp, segment.Fd())
}

// ringHeaderBytes is a single little-endian uint64 at the front of the
// segment: the number of records the forwarder has written so far. A
// client maps the segment read-only and treats it as the same
// produced/consumed discipline as reportqueue.Ring itself — it polls
// the header, reads any newly-produced slots at index (n %
// CapacityItems), and never writes to the mapping.
const ringHeaderBytes = 8

// forwardRing drains ring and copies each report into segment's mapped
// pages, advancing the header count and pinging the client's eventfd
// (if one was registered) after each one. This is the bridge
// DESIGN.md's internal/reportqueue entry calls out: the ring itself
// never touches a syscall, and this goroutine is the only thing that
// does, once per client, for the life of that client's queue.
func forwardRing(ctx context.Context, ring *reportqueue.Ring, segment *shm.Segment, notifyFD int) {
	defer segment.Close()

	data := segment.Bytes()
	var written uint64

	for {
		if ctx.Err() != nil {
			return
		}

		report, ok := ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}

		encoded, err := report.MarshalBinary()
		if err != nil {
			continue
		}

		slot := ringHeaderBytes + int(written%uint64(ring.Capacity()))*wire.ReportSize
		copy(data[slot:slot+wire.ReportSize], encoded)

		written++
		littleEndianPutUint64(data[:ringHeaderBytes], written)

		if notifyFD != 0 {
			unix.Write(notifyFD, []byte{1, 0, 0, 0, 0, 0, 0, 0})
		}
	}
}

func littleEndianPutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// receiveFD extracts exactly one file descriptor from a ReadMsgUnix
// ancillary-data buffer.
func receiveFD(oob []byte) (int, error) {
	if len(oob) == 0 {
		return 0, errors.New("no ancillary data: expected an SCM_RIGHTS fd")
	}
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, fmt.Errorf("parsing control message: %w", err)
	}
	for _, msg := range messages {
		fds, err := unix.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return 0, errors.New("no fd found in ancillary data")
}

func (s *Server) writeResponse(conn *net.UnixConn, resp wire.Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("ipcserver: write failed", "error", err)
	}
}

func (s *Server) writeResponseWithFD(conn *net.UnixConn, resp wire.Response, fd int) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	payload, err := codec.Marshal(resp)
	if err != nil {
		s.logger.Debug("ipcserver: marshal failed", "error", err)
		return
	}

	oob := unix.UnixRights(fd)
	if _, _, err := conn.WriteMsgUnix(payload, oob, nil); err != nil {
		s.logger.Debug("ipcserver: write with fd failed", "error", err)
	}
}

// Close releases every eventfd this server has dup'd in from a
// set_report_queue_notification_port call. cmd/sandboxcore calls this
// on shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for clientPID, fd := range s.notifyFDs {
		unix.Close(fd)
		delete(s.notifyFDs, clientPID)
	}
}
