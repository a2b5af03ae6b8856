package rpcserver

import (
	"encoding/json"
	"github.com/btccom/btccustody/wallet"
	"net/http"
)

const (
	// HeaderIdentity carries the authenticated end-user identity.
	// The gateway in front of the service sets it; a missing
	// header means an anonymous caller.
	HeaderIdentity = "X-Custody-Identity"

	// maxRequestSize bounds every request body.
	maxRequestSize = 1 << 20
)

// PublicResponse is the envelope of every successful response.
type PublicResponse[T any] struct {
	Data T `json:"data"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// Result is the outcome of a successful handler.
type Result struct {
	Data   interface{}
	Status int
}

// NewResult wraps data into a 200 Result.
func NewResult[T any](data T) *Result {
	return &Result{Data: &PublicResponse[T]{Data: data}, Status: http.StatusOK}
}

type handlerFunc func(*http.Request) (*Result, *Error)

// registerHandler adapts a handlerFunc into an http.HandlerFunc,
// writing either its result or its error as JSON.
func registerHandler(handler handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)

		result, apiErr := handler(r)
		if apiErr != nil {
			if apiErr.StatusCode >= http.StatusInternalServerError {
				log.Errorf("%s %s: %v", r.Method, r.URL.Path, apiErr)
			} else {
				log.Debugf("%s %s: %v", r.Method, r.URL.Path, apiErr)
			}
			RespondWithError(w, apiErr)
			return
		}

		writeJSON(w, result.Status, result.Data)
	}
}

// RespondWithError writes apiErr as an ErrorResponse.
func RespondWithError(w http.ResponseWriter, apiErr *Error) {
	writeJSON(w, apiErr.StatusCode, &ErrorResponse{
		ErrorCode: apiErr.ErrorCode.String(),
		Message:   apiErr.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("Failed to write response: %v", err)
	}
}

func decodeBody(r *http.Request, payload interface{}) *Error {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		return NewErrorWithMsg(http.StatusBadRequest, BadRequest, "invalid request payload")
	}
	return nil
}

func identityFromRequest(r *http.Request) wallet.Identity {
	return wallet.Identity(r.Header.Get(HeaderIdentity))
}
