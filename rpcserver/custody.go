package rpcserver

import (
	"github.com/btccom/btccustody/custody"
	"net/http"
)

// CustodyHandler serves the custody API.
type CustodyHandler struct {
	s *custody.Service
}

// NewCustodyHandler creates a CustodyHandler for service.
func NewCustodyHandler(service *custody.Service) *CustodyHandler {
	return &CustodyHandler{s: service}
}

// Register adds the custody routes to mux.
func (h *CustodyHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/network", registerHandler(h.GetNetwork))
	mux.HandleFunc("POST /v1/wallet", registerHandler(h.GetOrCreateWallet))
	mux.HandleFunc("GET /v1/balance", registerHandler(h.GetBalance))
	mux.HandleFunc("GET /v1/utxos", registerHandler(h.GetUtxos))
	mux.HandleFunc("GET /v1/fee-percentiles", registerHandler(h.GetFeePercentiles))
	mux.HandleFunc("POST /v1/send-requests", registerHandler(h.InitSendRequest))
	mux.HandleFunc("POST /v1/send", registerHandler(h.Send))
}

func (h *CustodyHandler) GetNetwork(_ *http.Request) (*Result, *Error) {
	return NewResult(&NetworkResponse{Network: h.s.Network().Name}), nil
}

func (h *CustodyHandler) GetOrCreateWallet(request *http.Request) (*Result, *Error) {
	addr, err := h.s.GetOrCreateWallet(request.Context(), identityFromRequest(request))
	if err != nil {
		return nil, errorFromDomain(err)
	}

	return NewResult(&WalletResponse{Address: addr.String()}), nil
}

func (h *CustodyHandler) GetBalance(request *http.Request) (*Result, *Error) {
	address := request.URL.Query().Get("address")
	balance, err := h.s.Balance(request.Context(), address)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	return NewResult(&BalanceResponse{Address: address, Balance: int64(balance)}), nil
}

func (h *CustodyHandler) GetUtxos(request *http.Request) (*Result, *Error) {
	address := request.URL.Query().Get("address")
	utxos, err := h.s.Utxos(request.Context(), address)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	return NewResult(&UtxosResponse{Address: address, Utxos: toUtxos(utxos)}), nil
}

func (h *CustodyHandler) GetFeePercentiles(request *http.Request) (*Result, *Error) {
	percentiles, err := h.s.FeePercentiles(request.Context())
	if err != nil {
		return nil, errorFromDomain(err)
	}
	if percentiles == nil {
		percentiles = []uint64{}
	}

	return NewResult(&FeePercentilesResponse{Percentiles: percentiles}), nil
}

func (h *CustodyHandler) InitSendRequest(request *http.Request) (*Result, *Error) {
	payload := &SendRequest{}
	if apiErr := decodeBody(request, payload); apiErr != nil {
		return nil, apiErr
	}

	amount, err := parseAmount(payload.AmountInSatoshi)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	raw, err := h.s.InitSendRequest(request.Context(), identityFromRequest(request),
		payload.DestinationAddress, amount)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	return NewResult(toRawBundle(raw)), nil
}

func (h *CustodyHandler) Send(request *http.Request) (*Result, *Error) {
	payload := &SendRequest{}
	if apiErr := decodeBody(request, payload); apiErr != nil {
		return nil, apiErr
	}

	amount, err := parseAmount(payload.AmountInSatoshi)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	txid, err := h.s.Send(request.Context(), identityFromRequest(request), payload.DestinationAddress, amount)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	return NewResult(&SendResponse{TxID: txid}), nil
}
