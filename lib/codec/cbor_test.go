// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleResult mirrors the shape of a verification report entry.
type sampleResult struct {
	Path   string `cbor:"path"`
	Status string `cbor:"status"`
	Chunk  string `cbor:"chunk,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleResult{
		Path:   "bin/game",
		Status: "chunk-hash-mismatch",
		Chunk:  "0f343b0931126a20f133d67c2b018a3b",
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleResult
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	message := sampleResult{Path: "a.txt", Status: "ok"}

	first, err := Marshal(message)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(message)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	results := []sampleResult{
		{Path: "a.txt", Status: "ok"},
		{Path: "bin/game", Status: "missing-chunk", Chunk: "ab"},
		{Path: "data/config.txt", Status: "size-mismatch"},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, result := range results {
		if err := encoder.Encode(result); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range results {
		var got sampleResult
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode result %d: %v", i, err)
		}
		if got != want {
			t.Errorf("result %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestOmitemptyRespected(t *testing.T) {
	withChunk := sampleResult{Path: "a", Status: "ok", Chunk: "ff"}
	withoutChunk := sampleResult{Path: "a", Status: "ok"}

	dataWith, err := Marshal(withChunk)
	if err != nil {
		t.Fatal(err)
	}
	dataWithout, err := Marshal(withoutChunk)
	if err != nil {
		t.Fatal(err)
	}
	if len(dataWithout) >= len(dataWith) {
		t.Errorf("omitempty not effective: without=%d bytes, with=%d bytes",
			len(dataWithout), len(dataWith))
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var result sampleResult
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &result); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}
