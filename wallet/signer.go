package wallet

import (
	"context"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// MultisigPosition is the slot a signature fills in the
// 2-of-2 witness stack. The custody signature always goes
// first and the fiduciary signature last.
type MultisigPosition uint8

const (
	// PositionFirst clears the witness and adds the
	// CHECKMULTISIG placeholder and the first signature.
	PositionFirst MultisigPosition = iota

	// PositionLast adds the second signature and the
	// witness script.
	PositionLast
)

// String returns a readable position name.
func (p MultisigPosition) String() string {
	if p == PositionFirst {
		return "first"
	}
	return "last"
}

// SignBundle signs the sighash of every input with the key at
// path and returns the bundle with the signatures added to the
// witness stacks. After a First and then a Last pass every
// witness reads [<empty>, sig1, sig2, witnessScript].
//
// A Last pass is only accepted on a bundle awaiting it. The
// signature already present is not checked.
func SignBundle(ctx context.Context, bundle *TransactionBundle, oracle SigningOracle,
	keyName string, path DerivationPath, position MultisigPosition) (*TransactionBundle, error) {

	if position == PositionLast {
		stage, err := bundle.Stage()
		if err != nil {
			return nil, err
		}
		if stage != StageAwaitingLast {
			return nil, errors.Wrapf(ErrBundleStage, "cannot add last signature to %s bundle", stage)
		}
	}

	tx := bundle.Tx()
	for i, txIn := range tx.TxIn {
		if position == PositionFirst {
			txIn.Witness = wire.TxWitness{{}}
		}

		digest := bundle.sigHashes[i]
		raw, err := oracle.Sign(ctx, keyName, path, digest[:])
		if err != nil {
			return nil, errors.Wrapf(ErrSigningFailure, "input %d: %v", i, err)
		}
		if len(raw) != RawSignatureLen {
			return nil, errors.Wrapf(ErrSigningFailure, "input %d: oracle returned %d byte signature", i, len(raw))
		}

		txIn.Witness = append(txIn.Witness, NewTxSignature(raw, txscript.SigHashAll).Serialize())
		if position == PositionLast {
			txIn.Witness = append(txIn.Witness, bundle.WitnessScript())
		}
	}

	log.Debugf("Added %s signature to %d inputs of %s", position, len(tx.TxIn), tx.TxHash())

	return NewTransactionBundle(tx, bundle.witnessScript, bundle.sigHashes), nil
}

// signPlaceholders returns a copy of tx where every input
// carries a complete witness made of placeholder signatures,
// so its serialized size matches the signed transaction.
func signPlaceholders(tx *wire.MsgTx, witnessScript []byte) *wire.MsgTx {
	sig := NewTxSignature(placeholderSignature, txscript.SigHashAll).Serialize()

	signed := tx.Copy()
	for _, txIn := range signed.TxIn {
		txIn.Witness = wire.TxWitness{{}, sig, sig, witnessScript}
	}

	return signed
}
