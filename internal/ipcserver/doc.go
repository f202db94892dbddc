// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipcserver serves the sandbox core's control-plane RPCs
// (internal/wire's Request/Response envelope) on a Unix domain socket,
// one request-response cycle per connection, grounded on the teacher's
// lib/service.SocketServer.
//
// Every verb except set_report_queue_notification_port and
// get_report_queue_memory_descriptor is a plain CBOR round trip through
// core.Core.Handle. Those two carry a kernel handle — an eventfd and a
// memfd respectively — that a CBOR payload cannot represent, so this
// package sends and receives them as SCM_RIGHTS ancillary data on the
// same connection, alongside the CBOR request/response.
package ipcserver
