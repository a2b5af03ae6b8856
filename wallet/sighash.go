package wallet

import (
	"fmt"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// CalcSigHashes returns the BIP143 SIGHASH_ALL digest of
// every input of tx, where every input spends values[i]
// from the P2WSH output of witnessScript. It panics if the
// number of values differs from the number of inputs.
func CalcSigHashes(tx *wire.MsgTx, witnessScript []byte, values []btcutil.Amount) ([]chainhash.Hash, error) {
	if len(values) != len(tx.TxIn) {
		panic(fmt.Sprintf("%d input values for %d inputs", len(values), len(tx.TxIn)))
	}

	pkScript := GetP2WSHWitnessProgram(witnessScript)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		prevOuts[txIn.PreviousOutPoint] = wire.NewTxOut(int64(values[i]), pkScript)
	}

	sigHashes := txscript.NewTxSigHashes(tx, txscript.NewMultiPrevOutFetcher(prevOuts))

	hashes := make([]chainhash.Hash, len(tx.TxIn))
	for i := range tx.TxIn {
		hash, err := txscript.CalcWitnessSigHash(witnessScript, sigHashes,
			txscript.SigHashAll, tx, i, int64(values[i]))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to compute sighash of input %d", i)
		}

		copy(hashes[i][:], hash)
	}

	return hashes, nil
}
