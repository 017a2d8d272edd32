package engine

import (
	"io"

	"github.com/cs3235/nakamoto-node/internal/ipc"
)

// ServeIPC reads newline-delimited ipc.Request messages from r,
// dispatches each against e, and writes the corresponding
// ipc.Response to w, until r is exhausted or a Quit request arrives.
func (e *Engine) ServeIPC(r io.Reader, w io.Writer) error {
	reader := ipc.NewReader(r)
	writer := ipc.NewWriter(w)

	for {
		req, err := reader.ReadRequest()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		resp := e.handleRequest(req)
		if err := writer.WriteResponse(resp); err != nil {
			return err
		}
		if req.Kind == ipc.KindQuit {
			return nil
		}
	}
}

func (e *Engine) handleRequest(req ipc.Request) ipc.Response {
	switch req.Kind {
	case ipc.KindGetAddressBalance:
		var payload ipc.GetAddressBalanceRequest
		if err := ipc.Decode(req.Data, &payload); err != nil {
			return errorResponse(err)
		}
		resp, _ := ipc.NewResponse(ipc.KindAddressBalance, ipc.AddressBalanceResponse{
			UserId:  payload.UserId,
			Balance: e.tree.FinalizedBalance(payload.UserId),
		})
		return resp

	case ipc.KindPublishTx:
		var payload ipc.PublishTxRequest
		if err := ipc.Decode(req.Data, &payload); err != nil {
			return errorResponse(err)
		}
		if err := e.PublishTx(payload.Tx); err != nil {
			return errorResponse(err)
		}
		resp, _ := ipc.NewResponse(ipc.KindPublished, nil)
		return resp

	case ipc.KindRequestBlock:
		var payload ipc.RequestBlockRequest
		if err := ipc.Decode(req.Data, &payload); err != nil {
			return errorResponse(err)
		}
		block, found := e.tree.GetBlock(payload.BlockId)
		resp, _ := ipc.NewResponse(ipc.KindBlock, ipc.BlockResponse{Found: found, Block: block})
		return resp

	case ipc.KindRequestFinalizedBlocks:
		var payload ipc.RequestFinalizedBlocksRequest
		if err := ipc.Decode(req.Data, &payload); err != nil {
			return errorResponse(err)
		}
		blocks, err := e.tree.GetFinalizedBlocksSince(payload.SinceBlockId)
		if err != nil {
			return errorResponse(err)
		}
		resp, _ := ipc.NewResponse(ipc.KindFinalizedBlocks, ipc.FinalizedBlocksResponse{Blocks: blocks})
		return resp

	case ipc.KindRequestNetStatus:
		resp, _ := ipc.NewResponse(ipc.KindNetStatus, e.net.GetStatus())
		return resp

	case ipc.KindRequestChainStatus:
		resp, _ := ipc.NewResponse(ipc.KindChainStatus, e.tree.GetStatus())
		return resp

	case ipc.KindRequestMinerStatus:
		resp, _ := ipc.NewResponse(ipc.KindMinerStatus, e.mine.GetStatus())
		return resp

	case ipc.KindRequestTxPoolStatus:
		resp, _ := ipc.NewResponse(ipc.KindTxPoolStatus, e.pool.GetStatus())
		return resp

	case ipc.KindQuit:
		resp, _ := ipc.NewResponse(ipc.KindQuit, nil)
		return resp

	default:
		resp, _ := ipc.NewResponse(ipc.KindError, ipc.ErrorResponse{Message: "unknown request kind: " + req.Kind})
		return resp
	}
}

func errorResponse(err error) ipc.Response {
	resp, _ := ipc.NewResponse(ipc.KindError, ipc.ErrorResponse{Message: err.Error()})
	return resp
}
