package wallet

import (
	"bytes"
	"fmt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// BundleStage is the signing progress of a bundle, read
// from the witness stacks of its inputs.
type BundleStage uint8

const (
	// StageUnsigned means no input carries a witness.
	StageUnsigned BundleStage = iota

	// StageAwaitingLast means every input carries the
	// placeholder and the first signature.
	StageAwaitingLast

	// StageComplete means every input carries the full
	// multisig witness.
	StageComplete
)

// String returns a readable stage name.
func (s BundleStage) String() string {
	switch s {
	case StageUnsigned:
		return "unsigned"
	case StageAwaitingLast:
		return "awaiting-last"
	case StageComplete:
		return "complete"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// TransactionBundle is a transaction spending P2WSH outputs
// of a single witness script, together with the sighash of
// every input. The sighashes are the only thing a signer
// needs, so a bundle can be signed without knowing the
// values of the spent outputs. A bundle is never modified
// after construction.
type TransactionBundle struct {
	tx            *wire.MsgTx
	witnessScript []byte
	sigHashes     []chainhash.Hash
}

// NewTransactionBundle copies its arguments into a bundle. It
// panics unless there is one sighash per input.
func NewTransactionBundle(tx *wire.MsgTx, witnessScript []byte, sigHashes []chainhash.Hash) *TransactionBundle {
	if len(sigHashes) != len(tx.TxIn) {
		panic(fmt.Sprintf("%d sighashes for %d inputs", len(sigHashes), len(tx.TxIn)))
	}

	return &TransactionBundle{
		tx:            tx.Copy(),
		witnessScript: append([]byte{}, witnessScript...),
		sigHashes:     append([]chainhash.Hash{}, sigHashes...),
	}
}

// Tx returns a copy of the transaction.
func (b *TransactionBundle) Tx() *wire.MsgTx {
	return b.tx.Copy()
}

// TxHash returns the transaction id.
func (b *TransactionBundle) TxHash() chainhash.Hash {
	return b.tx.TxHash()
}

// WitnessScript returns a copy of the witness script.
func (b *TransactionBundle) WitnessScript() []byte {
	return append([]byte{}, b.witnessScript...)
}

// SigHashes returns a copy of the input sighashes.
func (b *TransactionBundle) SigHashes() []chainhash.Hash {
	return append([]chainhash.Hash{}, b.sigHashes...)
}

// Equal returns whether both bundles serialize to the
// same raw bundle.
func (b *TransactionBundle) Equal(other *TransactionBundle) bool {
	if other == nil || len(b.sigHashes) != len(other.sigHashes) {
		return false
	}

	for i := range b.sigHashes {
		if b.sigHashes[i] != other.sigHashes[i] {
			return false
		}
	}

	return bytes.Equal(b.witnessScript, other.witnessScript) &&
		bytes.Equal(serializeTx(b.tx), serializeTx(other.tx))
}

// Stage reads the signing progress from the witness stacks.
// All inputs must be in the same stage.
func (b *TransactionBundle) Stage() (BundleStage, error) {
	var stage BundleStage
	for i, txIn := range b.tx.TxIn {
		inputStage, err := witnessStage(txIn.Witness, b.witnessScript)
		if err != nil {
			return 0, errors.Wrapf(err, "input %d", i)
		}

		if i == 0 {
			stage = inputStage
		} else if inputStage != stage {
			return 0, errors.Wrapf(ErrBundleStage, "input %d is %s, input 0 is %s", i, inputStage, stage)
		}
	}

	return stage, nil
}

// witnessStage classifies the witness of one input.
func witnessStage(witness wire.TxWitness, ws []byte) (BundleStage, error) {
	switch len(witness) {
	case 0:
		return StageUnsigned, nil
	case 2:
		if len(witness[0]) == 0 {
			return StageAwaitingLast, nil
		}
	case 4:
		if len(witness[0]) == 0 && bytes.Equal(witness[3], ws) {
			return StageComplete, nil
		}
	}

	return 0, errors.Wrapf(ErrBundleStage, "unexpected witness with %d elements", len(witness))
}

// RawTransactionBundle is the byte level form of a bundle
// used to move it between the two services.
type RawTransactionBundle struct {
	Transaction   []byte
	WitnessScript []byte
	SigHashes     [][]byte
}

// ToRaw serializes the bundle.
func (b *TransactionBundle) ToRaw() *RawTransactionBundle {
	sigHashes := make([][]byte, len(b.sigHashes))
	for i := range b.sigHashes {
		sigHashes[i] = b.sigHashes[i].CloneBytes()
	}

	return &RawTransactionBundle{
		Transaction:   serializeTx(b.tx),
		WitnessScript: b.WitnessScript(),
		SigHashes:     sigHashes,
	}
}

// BundleFromRaw is the inverse of ToRaw. Malformed input
// is reported with ErrDecodeFailure.
func BundleFromRaw(raw *RawTransactionBundle) (*TransactionBundle, error) {
	if raw == nil {
		return nil, errors.Wrap(ErrDecodeFailure, "empty bundle")
	}

	tx := &wire.MsgTx{}
	reader := bytes.NewReader(raw.Transaction)
	if err := tx.Deserialize(reader); err != nil {
		return nil, errors.Wrapf(ErrDecodeFailure, "transaction: %v", err)
	}
	if reader.Len() != 0 {
		return nil, errors.Wrapf(ErrDecodeFailure, "%d trailing bytes after transaction", reader.Len())
	}

	if len(raw.SigHashes) != len(tx.TxIn) {
		return nil, errors.Wrapf(ErrDecodeFailure, "%d sighashes for %d inputs", len(raw.SigHashes), len(tx.TxIn))
	}

	sigHashes := make([]chainhash.Hash, len(raw.SigHashes))
	for i, sigHash := range raw.SigHashes {
		if len(sigHash) != chainhash.HashSize {
			return nil, errors.Wrapf(ErrDecodeFailure, "sighash %d has %d bytes", i, len(sigHash))
		}
		copy(sigHashes[i][:], sigHash)
	}

	return NewTransactionBundle(tx, raw.WitnessScript, sigHashes), nil
}

func serializeTx(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	// writes to a bytes.Buffer do not fail
	_ = tx.Serialize(&buf)
	return buf.Bytes()
}
