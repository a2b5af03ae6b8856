// Package chain talks to the bitcoin network: an Esplora
// (mempool.space compatible) HTTP API serves UTXOs, balances
// and fee rates, and either that API or a node's JSON-RPC
// interface broadcasts transactions.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	// maxResponseSize bounds every response body.
	maxResponseSize = 1 << 20

	// numPercentiles is the length of a fee percentile sample.
	numPercentiles = 100

	// DefaultTimeout applies to every API request.
	DefaultTimeout = 10 * time.Second
)

// EsploraClient implements wallet.ChainSource and
// wallet.Broadcaster against an Esplora API.
type EsploraClient struct {
	baseURL string
	client  *http.Client
}

// NewEsploraClient returns a client for the API at baseURL,
// eg https://mempool.space/testnet/api.
func NewEsploraClient(baseURL string, timeout time.Duration) *EsploraClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &EsploraClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type esploraUtxo struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint32 `json:"block_height"`
	} `json:"status"`
}

type esploraAddress struct {
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
	} `json:"chain_stats"`
}

type esploraMempoolBlock struct {
	FeeRange []float64 `json:"feeRange"`
}

// Utxos returns the confirmed UTXOs of addr in the order
// the API lists them.
func (c *EsploraClient) Utxos(ctx context.Context, addr btcutil.Address) ([]wallet.Utxo, error) {
	var listed []esploraUtxo
	if err := c.getJSON(ctx, fmt.Sprintf("/address/%s/utxo", addr.EncodeAddress()), &listed); err != nil {
		return nil, err
	}

	utxos := make([]wallet.Utxo, 0, len(listed))
	for _, utxo := range listed {
		if !utxo.Status.Confirmed {
			continue
		}

		hash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid txid %q", utxo.TxID)
		}

		utxos = append(utxos, wallet.Utxo{
			OutPoint: *wire.NewOutPoint(hash, utxo.Vout),
			Value:    btcutil.Amount(utxo.Value),
			Height:   utxo.Status.BlockHeight,
		})
	}

	log.Debugf("Found %d confirmed of %d UTXOs for %s", len(utxos), len(listed), addr)

	return utxos, nil
}

// Balance returns the confirmed balance of addr.
func (c *EsploraClient) Balance(ctx context.Context, addr btcutil.Address) (btcutil.Amount, error) {
	var stats esploraAddress
	if err := c.getJSON(ctx, fmt.Sprintf("/address/%s", addr.EncodeAddress()), &stats); err != nil {
		return 0, err
	}

	return btcutil.Amount(stats.ChainStats.FundedTxoSum - stats.ChainStats.SpentTxoSum), nil
}

// FeePercentiles spreads the fee range of the next projected
// block over 100 percentiles, in millisatoshi per byte. An empty
// mempool yields an empty sample.
func (c *EsploraClient) FeePercentiles(ctx context.Context) ([]uint64, error) {
	var blocks []esploraMempoolBlock
	if err := c.getJSON(ctx, "/v1/fees/mempool-blocks", &blocks); err != nil {
		return nil, err
	}

	if len(blocks) == 0 {
		return []uint64{}, nil
	}

	return percentilesFromRange(blocks[0].FeeRange)
}

// percentilesFromRange linearly interpolates an ascending list
// of sat/vbyte rates, taken as evenly spaced quantiles. Rates
// that are not finite, negative or above wallet.MaxFeeRate fail
// with wallet.ErrOracleFailure.
func percentilesFromRange(feeRange []float64) ([]uint64, error) {
	if len(feeRange) == 0 {
		return []uint64{}, nil
	}

	maxRate := float64(wallet.MaxFeeRate) / 1000
	for _, rate := range feeRange {
		if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 || rate > maxRate {
			return nil, errors.Wrapf(wallet.ErrOracleFailure, "fee rate %v sat/vbyte out of range", rate)
		}
	}

	percentiles := make([]uint64, numPercentiles)
	last := len(feeRange) - 1
	for p := range percentiles {
		pos := float64(p*last) / float64(numPercentiles-1)
		lower := int(math.Floor(pos))
		rate := feeRange[lower]
		if lower < last {
			rate += (feeRange[lower+1] - feeRange[lower]) * (pos - float64(lower))
		}
		percentiles[p] = uint64(math.Round(rate * 1000))
	}

	return percentiles, nil
}

// Broadcast submits tx and checks the API echoes its txid.
func (c *EsploraClient) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	body, err := c.do(ctx, http.MethodPost, "/tx", strings.NewReader(hex.EncodeToString(buf.Bytes())))
	if err != nil {
		return err
	}

	txid := tx.TxHash().String()
	if echoed := strings.TrimSpace(string(body)); echoed != txid {
		return errors.Errorf("broadcast returned txid %q, expected %s", echoed, txid)
	}

	log.Infof("Broadcast %s", txid)

	return nil
}

func (c *EsploraClient) getJSON(ctx context.Context, route string, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, route, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "cannot decode %s", route)
	}

	return nil
}

func (c *EsploraClient) do(ctx context.Context, method, route string, reqBody io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(nil, res.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("%s %s failed. status code: %d, message: %s",
			method, route, res.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
