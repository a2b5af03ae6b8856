package rpcserver

import (
	"encoding/hex"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
)

// All byte strings cross the wire hex encoded.

type NetworkResponse struct {
	Network string `json:"network"`
}

type WalletResponse struct {
	Address string `json:"address"`
}

type BalanceResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

type Utxo struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Height uint32 `json:"height"`
}

type UtxosResponse struct {
	Address string `json:"address"`
	Utxos   []Utxo `json:"utxos"`
}

type FeePercentilesResponse struct {
	// Percentiles are in millisatoshi per byte.
	Percentiles []uint64 `json:"percentiles"`
}

type SendRequest struct {
	DestinationAddress string `json:"destinationAddress"`
	AmountInSatoshi    int64  `json:"amountInSatoshi"`
}

type SendResponse struct {
	TxID string `json:"txid"`
}

// RawTransactionBundle is the JSON form of wallet.RawTransactionBundle.
type RawTransactionBundle struct {
	Transaction   string   `json:"transaction"`
	WitnessScript string   `json:"witnessScript"`
	SigHashes     []string `json:"sigHashes"`
}

type FinalizeSendRequest struct {
	Network string                `json:"network"`
	Bundle  *RawTransactionBundle `json:"bundle"`
}

type PublicKeyRequest struct {
	Network        string   `json:"network"`
	DerivationPath []string `json:"derivationPath"`
}

type PublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type SignForCustodyRequest struct {
	Network        string   `json:"network"`
	DerivationPath []string `json:"derivationPath"`
	Digest         string   `json:"digest"`
}

type SignForCustodyResponse struct {
	Signature string `json:"signature"`
}

func toUtxos(utxos []wallet.Utxo) []Utxo {
	resp := make([]Utxo, len(utxos))
	for i, utxo := range utxos {
		resp[i] = Utxo{
			TxID:   utxo.OutPoint.Hash.String(),
			Vout:   utxo.OutPoint.Index,
			Value:  int64(utxo.Value),
			Height: utxo.Height,
		}
	}
	return resp
}

func toRawBundle(raw *wallet.RawTransactionBundle) *RawTransactionBundle {
	sigHashes := make([]string, len(raw.SigHashes))
	for i, sigHash := range raw.SigHashes {
		sigHashes[i] = hex.EncodeToString(sigHash)
	}

	return &RawTransactionBundle{
		Transaction:   hex.EncodeToString(raw.Transaction),
		WitnessScript: hex.EncodeToString(raw.WitnessScript),
		SigHashes:     sigHashes,
	}
}

func parseRawBundle(bundle *RawTransactionBundle) (*wallet.RawTransactionBundle, error) {
	if bundle == nil {
		return nil, errors.Wrap(wallet.ErrDecodeFailure, "missing bundle")
	}

	tx, err := hex.DecodeString(bundle.Transaction)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrDecodeFailure, "transaction: %v", err)
	}

	witnessScript, err := hex.DecodeString(bundle.WitnessScript)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrDecodeFailure, "witness script: %v", err)
	}

	sigHashes := make([][]byte, len(bundle.SigHashes))
	for i, sigHash := range bundle.SigHashes {
		sigHashes[i], err = hex.DecodeString(sigHash)
		if err != nil {
			return nil, errors.Wrapf(wallet.ErrDecodeFailure, "sighash %d: %v", i, err)
		}
	}

	return &wallet.RawTransactionBundle{
		Transaction:   tx,
		WitnessScript: witnessScript,
		SigHashes:     sigHashes,
	}, nil
}

func toHexPath(path wallet.DerivationPath) []string {
	elements := make([]string, len(path))
	for i, element := range path {
		elements[i] = hex.EncodeToString(element)
	}
	return elements
}

func parseHexPath(elements []string) (wallet.DerivationPath, error) {
	path := make(wallet.DerivationPath, len(elements))
	for i, element := range elements {
		b, err := hex.DecodeString(element)
		if err != nil {
			return nil, errors.Wrapf(wallet.ErrDecodeFailure, "derivation path element %d: %v", i, err)
		}
		path[i] = b
	}
	return path, nil
}

func parseAmount(satoshi int64) (btcutil.Amount, error) {
	amount := btcutil.Amount(satoshi)
	if amount <= 0 || amount > btcutil.MaxSatoshi {
		return 0, errors.Wrapf(wallet.ErrInvalidAmount, "%d", satoshi)
	}
	return amount, nil
}
