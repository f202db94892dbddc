// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "github.com/kittinap/kunnjae/internal/codec"

// Verb identifies a control-plane RPC, per spec.md §6.
type Verb string

const (
	VerbSetReportQueueSize            Verb = "set_report_queue_size"
	VerbAllocateReportQueue           Verb = "allocate_report_queue"
	VerbSetReportQueueNotificationPort Verb = "set_report_queue_notification_port"
	VerbGetReportQueueMemoryDescriptor Verb = "get_report_queue_memory_descriptor"
	VerbFreeReportQueues              Verb = "free_report_queues"
	VerbTrackRoot                     Verb = "track_root"
	VerbIntrospect                    Verb = "introspect"
)

// Request is the CBOR-framed control-plane envelope a client sends over
// the Unix domain socket, grounded on the teacher's lib/ipc
// Request/Response shape (daemon<->launcher protocol, adapted here to
// the sandbox core's client<->core control plane).
type Request struct {
	Verb    Verb              `cbor:"verb"`
	Payload codec.RawMessage `cbor:"payload,omitempty"`
}

// Response is the CBOR-framed control-plane reply. Compressed marks a
// Payload that EncodeResponse zstd-compressed because it crossed
// compressThresholdBytes (introspect's per-pip list is the one RPC that
// plausibly reaches this size); DecodePayload transposes it back before
// unmarshaling.
type Response struct {
	Code       ExitCode         `cbor:"code"`
	Payload    codec.RawMessage `cbor:"payload,omitempty"`
	Compressed bool             `cbor:"compressed,omitempty"`
	Error      string           `cbor:"error,omitempty"`
}

// EncodeRequest builds a Request for verb whose payload is the
// CBOR-marshaled form of body.
func EncodeRequest(verb Verb, body any) (Request, error) {
	payload, err := codec.Marshal(body)
	if err != nil {
		return Request{}, err
	}
	return Request{Verb: verb, Payload: payload}, nil
}

// DecodePayload unmarshals r's payload into out.
func (r Request) DecodePayload(out any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return codec.Unmarshal(r.Payload, out)
}

// EncodeResponse builds a successful Response carrying body as payload,
// zstd-compressing it first if it's large enough for that to be worth
// the CPU.
func EncodeResponse(body any) (Response, error) {
	payload, err := codec.Marshal(body)
	if err != nil {
		return Response{}, err
	}
	compacted, compressed := maybeCompress(payload)
	return Response{Code: Success, Payload: compacted, Compressed: compressed}, nil
}

// ErrorResponse builds a failed Response with the given code and
// diagnostic message.
func ErrorResponse(code ExitCode, msg string) Response {
	return Response{Code: code, Error: msg}
}

// DecodePayload unmarshals the response's payload into out, transposing
// it back from zstd first if EncodeResponse compressed it.
func (r Response) DecodePayload(out any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	payload := []byte(r.Payload)
	if r.Compressed {
		decompressed, err := decompress(payload)
		if err != nil {
			return err
		}
		payload = decompressed
	}
	return codec.Unmarshal(payload, out)
}

// --- per-verb payload types ---

type SetReportQueueSizeRequest struct {
	MiB uint32 `cbor:"mib"`
}

type AllocateReportQueueRequest struct {
	ClientPID int `cbor:"client_pid"`
}

type SetReportQueueNotificationPortRequest struct {
	ClientPID int    `cbor:"client_pid"`
	Port      string `cbor:"port"`
}

type GetReportQueueMemoryDescriptorRequest struct {
	ClientPID int `cbor:"client_pid"`
}

// GetReportQueueMemoryDescriptorResponse carries the out-of-process
// shared-memory handle: a memfd passed out-of-band over SCM_RIGHTS, with
// Size/Capacity describing the mapping the client should mmap.
type GetReportQueueMemoryDescriptorResponse struct {
	SizeBytes     int64 `cbor:"size_bytes"`
	CapacityItems int   `cbor:"capacity_items"`
}

type FreeReportQueuesRequest struct {
	ClientPID int `cbor:"client_pid"`
}

type TrackRootRequest struct {
	ClientPID int    `cbor:"client_pid"`
	RootPID   int    `cbor:"root_pid"`
	FAMBytes  []byte `cbor:"fam_bytes"`
}

type TrackRootResponse struct {
	PipID uint64 `cbor:"pip_id"`
}

type IntrospectResponse struct {
	Pips []PipInfo `cbor:"pips"`
}

// PipInfo is the CBOR-serializable mirror of pip.PipInfo, kept as its
// own type here so internal/wire does not import internal/pip (wire sits
// below pip in the dependency graph; core.go converts between them).
type PipInfo struct {
	PipID            uint64 `cbor:"pip_id"`
	ClientPID        int    `cbor:"client_pid"`
	RootPID          int    `cbor:"root_pid"`
	State            string `cbor:"state"`
	ProcessTreeCount int32  `cbor:"process_tree_count"`

	AccessesAllowed    int64 `cbor:"accesses_allowed"`
	AccessesDenied     int64 `cbor:"accesses_denied"`
	ReportsEmitted     int64 `cbor:"reports_emitted"`
	ReportsSuppressed  int64 `cbor:"reports_suppressed"`
	CacheHits          int64 `cbor:"cache_hits"`
	CacheMisses        int64 `cbor:"cache_misses"`
	QueueEnqueueFailed int64 `cbor:"queue_enqueue_failed"`
}
