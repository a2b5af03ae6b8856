package rpcserver

import (
	"encoding/hex"
	"github.com/btccom/btccustody/fiduciary"
	"github.com/btccom/btccustody/wallet"
	"github.com/pkg/errors"
	"net/http"
)

// FiduciaryHandler serves the fiduciary API.
type FiduciaryHandler struct {
	s       *fiduciary.Service
	m       *FiduciaryMetrics
	hmacKey string
}

// NewFiduciaryHandler creates a FiduciaryHandler. Calls made by
// custody are authenticated with hmacKey.
func NewFiduciaryHandler(service *fiduciary.Service, metrics *FiduciaryMetrics, hmacKey string) *FiduciaryHandler {
	return &FiduciaryHandler{s: service, m: metrics, hmacKey: hmacKey}
}

// Register adds the fiduciary routes to mux.
func (h *FiduciaryHandler) Register(mux *http.ServeMux) {
	custodyOnly := HMACAuthMiddleware(h.hmacKey)

	mux.Handle("POST /v1/public-key", custodyOnly(registerHandler(h.GetPublicKey)))
	mux.Handle("POST /v1/sign-for-custody", custodyOnly(registerHandler(h.SignForCustody)))
	mux.HandleFunc("POST /v1/finalize-send-request", registerHandler(h.FinalizeSendRequest))
	mux.Handle("GET /metrics", h.m.Handler())
}

func (h *FiduciaryHandler) GetPublicKey(request *http.Request) (*Result, *Error) {
	payload := &PublicKeyRequest{}
	if apiErr := decodeBody(request, payload); apiErr != nil {
		return nil, apiErr
	}

	path, err := parseHexPath(payload.DerivationPath)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	h.m.PublicKeyRequests.Inc()

	pubKey, err := h.s.PublicKey(request.Context(), payload.Network, path)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	return NewResult(&PublicKeyResponse{PublicKey: hex.EncodeToString(pubKey)}), nil
}

func (h *FiduciaryHandler) SignForCustody(request *http.Request) (*Result, *Error) {
	payload := &SignForCustodyRequest{}
	if apiErr := decodeBody(request, payload); apiErr != nil {
		return nil, apiErr
	}

	path, err := parseHexPath(payload.DerivationPath)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	digest, err := hex.DecodeString(payload.Digest)
	if err != nil {
		return nil, errorFromDomain(errors.Wrapf(wallet.ErrDecodeFailure, "digest: %v", err))
	}

	h.m.ReceivedSigningRequests.Inc()

	sig, err := h.s.SignForCustody(request.Context(), payload.Network, path, digest)
	if err != nil {
		h.m.FailedSigningRequests.Inc()
		return nil, errorFromDomain(err)
	}

	h.m.SuccessfulSigningRequests.Inc()

	return NewResult(&SignForCustodyResponse{Signature: hex.EncodeToString(sig)}), nil
}

func (h *FiduciaryHandler) FinalizeSendRequest(request *http.Request) (*Result, *Error) {
	payload := &FinalizeSendRequest{}
	if apiErr := decodeBody(request, payload); apiErr != nil {
		return nil, apiErr
	}

	raw, err := parseRawBundle(payload.Bundle)
	if err != nil {
		return nil, errorFromDomain(err)
	}

	txid, err := h.s.FinalizeSendRequest(request.Context(), identityFromRequest(request), payload.Network, raw)
	if err != nil {
		h.m.FailedFinalizeSendRequests.Inc()
		return nil, errorFromDomain(err)
	}

	h.m.FinalizedSendRequests.Inc()

	return NewResult(&SendResponse{TxID: txid}), nil
}
