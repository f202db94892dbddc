// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "testing"

func TestRequestResponseRoundtrip(t *testing.T) {
	req, err := EncodeRequest(VerbTrackRoot, TrackRootRequest{ClientPID: 5, RootPID: 6, FAMBytes: []byte{1, 2}})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if req.Verb != VerbTrackRoot {
		t.Fatalf("Verb = %v, want VerbTrackRoot", req.Verb)
	}

	var decoded TrackRootRequest
	if err := req.DecodePayload(&decoded); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decoded.ClientPID != 5 || decoded.RootPID != 6 {
		t.Fatalf("decoded = %+v, want ClientPID=5 RootPID=6", decoded)
	}

	resp, err := EncodeResponse(TrackRootResponse{PipID: 99})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if resp.Code != Success {
		t.Fatalf("Code = %v, want Success", resp.Code)
	}

	var decodedResp TrackRootResponse
	if err := resp.DecodePayload(&decodedResp); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decodedResp.PipID != 99 {
		t.Fatalf("PipID = %d, want 99", decodedResp.PipID)
	}
}

func TestEncodeResponseCompressesLargePayloads(t *testing.T) {
	pips := make([]PipInfo, 2000)
	for i := range pips {
		pips[i] = PipInfo{PipID: uint64(i), ClientPID: i, RootPID: i, State: "running"}
	}

	resp, err := EncodeResponse(IntrospectResponse{Pips: pips})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !resp.Compressed {
		t.Fatalf("Compressed = false, want true for a %d-pip response", len(pips))
	}

	var decoded IntrospectResponse
	if err := resp.DecodePayload(&decoded); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if len(decoded.Pips) != len(pips) || decoded.Pips[1999].PipID != 1999 {
		t.Fatalf("decoded %d pips, want %d with PipID 1999 last", len(decoded.Pips), len(pips))
	}
}

func TestEncodeResponseLeavesSmallPayloadsUncompressed(t *testing.T) {
	resp, err := EncodeResponse(TrackRootResponse{PipID: 1})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if resp.Compressed {
		t.Fatalf("Compressed = true, want false for a tiny payload")
	}
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse(NotFound, "no such pip")
	if resp.Code != NotFound {
		t.Fatalf("Code = %v, want NotFound", resp.Code)
	}
	if resp.Error != "no such pip" {
		t.Fatalf("Error = %q", resp.Error)
	}
}

func TestExitCodeString(t *testing.T) {
	cases := map[ExitCode]string{
		Success:           "success",
		AlreadyRegistered: "already-registered",
		ParseError:        "parse-error",
		ResourceExhausted: "resource-exhausted",
		NotFound:          "not-found",
		InvalidArgument:   "invalid-argument",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", code, got, want)
		}
	}
}
