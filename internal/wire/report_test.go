// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "testing"

func TestAccessReportRoundtrip(t *testing.T) {
	original := AccessReport{
		Operation:       1,
		RequestedAccess: 2,
		StatusField:     Denied,
		PipID:           42,
		ClientPID:       100,
		RootPID:         200,
		PID:             201,
		Stats:           Stats{EnqueueNS: 111, DequeueNS: 222},
		Path:            "/tmp/obj/t1.obj",
	}

	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(data) != ReportSize {
		t.Fatalf("len(data) = %d, want %d", len(data), ReportSize)
	}

	var decoded AccessReport
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if decoded != original {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestAccessReportNonASCIIPathRoundtrips(t *testing.T) {
	original := AccessReport{Path: "/tmp/繙.txt"}
	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var decoded AccessReport
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if decoded.Path != original.Path {
		t.Fatalf("Path = %q, want %q", decoded.Path, original.Path)
	}
}

func TestAccessReportPathTooLong(t *testing.T) {
	long := make([]byte, maxPathBytes)
	for i := range long {
		long[i] = 'a'
	}
	r := AccessReport{Path: string(long)}
	if _, err := r.MarshalBinary(); err == nil {
		t.Fatal("expected error for oversize path")
	}
}

func TestUnmarshalBinaryWrongSize(t *testing.T) {
	var r AccessReport
	if err := r.UnmarshalBinary([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for undersize buffer")
	}
}

func TestStatusString(t *testing.T) {
	if Allowed.String() != "allowed" {
		t.Errorf("Allowed.String() = %q", Allowed.String())
	}
	if Denied.String() != "denied" {
		t.Errorf("Denied.String() = %q", Denied.String())
	}
}
