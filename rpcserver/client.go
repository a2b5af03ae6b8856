package rpcserver

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"github.com/btccom/btccustody/wallet"
	"github.com/pkg/errors"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// 1MB should be enough for the response
	maxResponseSize = 1 << 20
)

// FiduciaryClient is the custody side of the fiduciary API.
// It implements custody.Partner.
type FiduciaryClient struct {
	baseURL string
	network string
	hmacKey string
	client  *http.Client
}

// NewFiduciaryClient creates a client for the fiduciary at
// baseURL serving network. Requests are authenticated with
// hmacKey unless it is empty.
func NewFiduciaryClient(baseURL, network, hmacKey string, timeout time.Duration) *FiduciaryClient {
	return &FiduciaryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		network: network,
		hmacKey: hmacKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// PublicKey returns the fiduciary public key at path.
func (c *FiduciaryClient) PublicKey(ctx context.Context, path wallet.DerivationPath) ([]byte, error) {
	req := &PublicKeyRequest{
		Network:        c.network,
		DerivationPath: toHexPath(path),
	}

	var resp PublicResponse[PublicKeyResponse]
	if err := c.post(ctx, "/v1/public-key", req, &resp); err != nil {
		return nil, err
	}

	pubKey, err := hex.DecodeString(resp.Data.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid public key in response")
	}

	return pubKey, nil
}

// SignForCustody asks the fiduciary to sign digest with
// the key at path.
func (c *FiduciaryClient) SignForCustody(ctx context.Context, path wallet.DerivationPath, digest []byte) ([]byte, error) {
	req := &SignForCustodyRequest{
		Network:        c.network,
		DerivationPath: toHexPath(path),
		Digest:         hex.EncodeToString(digest),
	}

	var resp PublicResponse[SignForCustodyResponse]
	if err := c.post(ctx, "/v1/sign-for-custody", req, &resp); err != nil {
		return nil, err
	}

	sig, err := hex.DecodeString(resp.Data.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "invalid signature in response")
	}

	return sig, nil
}

func (c *FiduciaryClient) post(ctx context.Context, route string, req, resp interface{}) error {
	marshalled, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(marshalled))
	if err != nil {
		return err
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	if c.hmacKey != "" {
		httpRequest.Header.Set(HeaderCustodyHMAC, GenerateHMAC(c.hmacKey, marshalled))
	}

	res, err := c.client.Do(httpRequest)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(http.MaxBytesReader(nil, res.Body, maxResponseSize))
	if err != nil {
		return err
	}

	if res.StatusCode != http.StatusOK {
		return errors.Errorf("fiduciary request %s failed. status code: %d, message: %s",
			route, res.StatusCode, string(resBody))
	}

	return json.Unmarshal(resBody, resp)
}
