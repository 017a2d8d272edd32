// Package ipc implements the newline-delimited JSON protocol a client
// process uses to drive a running engine over its stdin and stdout,
// mirroring the tagged request/response enums of the reference client.
package ipc

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/cs3235/nakamoto-node/internal/chain"
)

// Request and response kinds. Every Request/Response carries exactly
// one of these kinds, plus whatever payload that kind requires.
const (
	KindGetAddressBalance      = "GetAddressBalance"
	KindPublishTx              = "PublishTx"
	KindRequestBlock           = "RequestBlock"
	KindRequestNetStatus       = "RequestNetStatus"
	KindRequestChainStatus     = "RequestChainStatus"
	KindRequestMinerStatus     = "RequestMinerStatus"
	KindRequestTxPoolStatus    = "RequestTxPoolStatus"
	KindRequestFinalizedBlocks = "RequestFinalizedBlocks"
	KindQuit                   = "Quit"

	KindAddressBalance      = "AddressBalance"
	KindPublished           = "Published"
	KindBlock               = "Block"
	KindNetStatus           = "NetStatus"
	KindChainStatus         = "ChainStatus"
	KindMinerStatus         = "MinerStatus"
	KindTxPoolStatus        = "TxPoolStatus"
	KindFinalizedBlocks     = "FinalizedBlocks"
	KindError               = "Error"
)

// Request is a single tagged message a client sends to the engine.
type Request struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is a single tagged message the engine sends back to a
// client.
type Response struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// GetAddressBalanceRequest asks for a single account's finalized
// balance.
type GetAddressBalanceRequest struct {
	UserId chain.UserId `json:"user_id"`
}

// AddressBalanceResponse answers a GetAddressBalanceRequest.
type AddressBalanceResponse struct {
	UserId  chain.UserId `json:"user_id"`
	Balance uint64       `json:"balance"`
}

// PublishTxRequest submits a signed transaction for gossip and mining.
type PublishTxRequest struct {
	Tx chain.Transaction `json:"tx"`
}

// RequestBlockRequest asks for a single block by id.
type RequestBlockRequest struct {
	BlockId chain.BlockId `json:"block_id"`
}

// BlockResponse answers a RequestBlockRequest. Found is false if no
// block with the requested id has been admitted.
type BlockResponse struct {
	Found bool            `json:"found"`
	Block chain.BlockNode `json:"block"`
}

// RequestFinalizedBlocksRequest asks for every finalized block after
// SinceBlockId.
type RequestFinalizedBlocksRequest struct {
	SinceBlockId chain.BlockId `json:"since_block_id"`
}

// FinalizedBlocksResponse answers a RequestFinalizedBlocksRequest.
type FinalizedBlocksResponse struct {
	Blocks []chain.BlockNode `json:"blocks"`
}

// ErrorResponse reports that a request could not be satisfied.
type ErrorResponse struct {
	Message string `json:"message"`
}

// NewRequest encodes payload as the Data of a Request with the given
// kind.
func NewRequest(kind string, payload interface{}) (Request, error) {
	if payload == nil {
		return Request{Kind: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, errors.Wrapf(err, "encoding %s request", kind)
	}
	return Request{Kind: kind, Data: data}, nil
}

// NewResponse encodes payload as the Data of a Response with the
// given kind.
func NewResponse(kind string, payload interface{}) (Response, error) {
	if payload == nil {
		return Response{Kind: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Response{}, errors.Wrapf(err, "encoding %s response", kind)
	}
	return Response{Kind: kind, Data: data}, nil
}

// Decode unmarshals a request's or response's Data field into out.
func Decode(data json.RawMessage, out interface{}) error {
	return json.Unmarshal(data, out)
}

// Reader reads newline-delimited JSON requests from a stream, such as
// a client's stdout piped to the engine's stdin.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r as a Reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Reader{scanner: scanner}
}

// ReadRequest reads and decodes the next newline-delimited request.
// It returns io.EOF once the stream is exhausted.
func (r *Reader) ReadRequest() (Request, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Request{}, err
		}
		return Request{}, io.EOF
	}
	var req Request
	if err := json.Unmarshal(r.scanner.Bytes(), &req); err != nil {
		return Request{}, errors.Wrap(err, "decoding request")
	}
	return req, nil
}

// ReadResponse reads and decodes the next newline-delimited response.
// It returns io.EOF once the stream is exhausted.
func (r *Reader) ReadResponse() (Response, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Response{}, err
		}
		return Response{}, io.EOF
	}
	var resp Response
	if err := json.Unmarshal(r.scanner.Bytes(), &resp); err != nil {
		return Response{}, errors.Wrap(err, "decoding response")
	}
	return resp, nil
}

// Writer writes newline-delimited JSON requests or responses to a
// stream, such as the engine's stdout.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w as a Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRequest encodes req followed by a newline.
func (w *Writer) WriteRequest(req Request) error {
	return w.writeLine(req)
}

// WriteResponse encodes resp followed by a newline.
func (w *Writer) WriteResponse(resp Response) error {
	return w.writeLine(resp)
}

func (w *Writer) writeLine(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding ipc message")
	}
	line = append(line, '\n')
	_, err = w.w.Write(line)
	return err
}
