package ipc

import (
	"bytes"
	"io"
	"testing"

	"github.com/cs3235/nakamoto-node/internal/chain"
)

func TestRequestRoundTrip(t *testing.T) {
	req, err := NewRequest(KindGetAddressBalance, GetAddressBalanceRequest{UserId: "alice"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteRequest(req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	got, err := NewReader(&buf).ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.Kind != KindGetAddressBalance {
		t.Fatalf("Kind = %s, want %s", got.Kind, KindGetAddressBalance)
	}

	var payload GetAddressBalanceRequest
	if err := Decode(got.Data, &payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload.UserId != "alice" {
		t.Fatalf("UserId = %s, want alice", payload.UserId)
	}
}

func TestReaderEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if _, err := r.ReadRequest(); err != io.EOF {
		t.Fatalf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestBlockResponseRoundTrip(t *testing.T) {
	resp, err := NewResponse(KindBlock, BlockResponse{
		Found: true,
		Block: chain.BlockNode{Header: chain.BlockNodeHeader{BlockId: "abc"}},
	})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}

	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteResponse(resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	got, err := NewReader(&buf).ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	var payload BlockResponse
	if err := Decode(got.Data, &payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload.Block.Header.BlockId != "abc" {
		t.Fatalf("BlockId = %s, want abc", payload.Block.Header.BlockId)
	}
}
