package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tolelom/lottochain/assets"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/indexer"
	"github.com/tolelom/lottochain/sequencer"
	"github.com/tolelom/lottochain/vm"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	seq     *sequencer.Sequencer
	indexer *indexer.Indexer
}

// NewHandler creates an RPC Handler. idx may be nil, which disables the
// index queries.
func NewHandler(seq *sequencer.Sequencer, idx *indexer.Indexer) *Handler {
	return &Handler{seq: seq, indexer: idx}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	if op, ok := vm.Lookup(core.TxType(req.Method)); ok {
		return h.submit(req, op)
	}
	switch req.Method {
	case "sendTx":
		return h.sendTx(req)

	// ---- ledger queries ----
	case "ShowAssets":
		return h.showAssets(req)
	case "UserDetails":
		return h.userDetails(req)
	case "LotteryDetails":
		return h.lotteryDetails(req)
	case "AssetExists":
		return h.assetExists(req)

	// ---- chain queries ----
	case "getBlockHeight":
		return okResponse(req.ID, h.seq.Chain().Height())
	case "getBlock":
		return h.getBlock(req)
	case "getLotteriesByUser":
		return h.byUser(req, func(id string) ([]string, error) { return h.indexer.GetLotteriesByUser(id) })
	case "getWinsByUser":
		return h.byUser(req, func(id string) ([]string, error) { return h.indexer.GetWinsByUser(id) })

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// decodeParams strictly decodes params into v. Absent params decode as {}.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// submit decodes the operation's arguments and sequences it as one block.
func (h *Handler) submit(req Request, op vm.Operation) Response {
	var payload any = &struct{}{}
	if op.Params != nil {
		payload = op.Params()
	}
	if err := decodeParams(req.Params, payload); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	tx, err := core.NewTransaction(op.Type, payload)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	receipt, err := h.seq.Submit(tx)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, receipt)
}

// sendTx submits a pre-built transaction envelope {type, timestamp, payload}.
func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	receipt, err := h.seq.Submit(&tx)
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, receipt)
}

type idParams struct {
	ID string `json:"id"`
}

func (h *Handler) idParam(req Request) (string, *Response) {
	var params idParams
	if err := decodeParams(req.Params, &params); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return "", &resp
	}
	if params.ID == "" {
		resp := errResponse(req.ID, CodeInvalidParams, "id is required")
		return "", &resp
	}
	return params.ID, nil
}

func (h *Handler) showAssets(req Request) Response {
	var params struct {
		Category string `json:"category"`
	}
	if err := decodeParams(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	var out []byte
	err := h.seq.View(func(s core.State) error {
		var err error
		out, err = assets.NewRegistry(s).ShowAssets(params.Category)
		return err
	})
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, json.RawMessage(out))
}

func (h *Handler) userDetails(req Request) Response {
	id, bad := h.idParam(req)
	if bad != nil {
		return *bad
	}
	var u *core.UserAccount
	err := h.seq.View(func(s core.State) error {
		var err error
		u, err = assets.NewRegistry(s).GetUser(id)
		return err
	})
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, u)
}

func (h *Handler) lotteryDetails(req Request) Response {
	id, bad := h.idParam(req)
	if bad != nil {
		return *bad
	}
	var l *core.LotteryPool
	err := h.seq.View(func(s core.State) error {
		var err error
		l, err = assets.NewRegistry(s).GetLottery(id)
		return err
	})
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, l)
}

func (h *Handler) assetExists(req Request) Response {
	id, bad := h.idParam(req)
	if bad != nil {
		return *bad
	}
	var exists bool
	err := h.seq.View(func(s core.State) error {
		var err error
		exists, err = assets.NewRegistry(s).Exists(id)
		return err
	})
	if err != nil {
		return failResponse(req.ID, err)
	}
	return okResponse(req.ID, exists)
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := decodeParams(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	bc := h.seq.Chain()
	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = bc.GetBlockByHeight(*params.Height)
	} else {
		block = bc.Tip()
	}
	if err != nil {
		return failResponse(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) byUser(req Request, lookup func(string) ([]string, error)) Response {
	if h.indexer == nil {
		return errResponse(req.ID, CodeMethodNotFound, "indexer disabled")
	}
	var params struct {
		UserID string `json:"userId"`
	}
	if err := decodeParams(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.UserID == "" {
		return errResponse(req.ID, CodeInvalidParams, "userId is required")
	}
	ids, err := lookup(params.UserID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return okResponse(req.ID, ids)
}
