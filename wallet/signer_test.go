package wallet

import (
	"context"
	"errors"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	_assert "github.com/stretchr/testify/require"
	"testing"
)

func TestSignBundle(t *testing.T) {
	oracle := &testOracle{}
	uw, unsigned := testBundle(t, oracle)
	values := []btcutil.Amount{20000, 30000}

	first, err := SignBundle(context.Background(), unsigned, oracle, testCustodyKey, uw.DerivationPath, PositionFirst)
	_assert.NoError(t, err)

	// hand the bundle across as bytes, like the services do
	received, err := BundleFromRaw(first.ToRaw())
	_assert.NoError(t, err)

	last, err := SignBundle(context.Background(), received, oracle, testFiduciaryKey, uw.DerivationPath, PositionLast)
	_assert.NoError(t, err)

	t.Run("first pass", func(t *testing.T) {
		for _, txIn := range first.Tx().TxIn {
			_assert.Len(t, txIn.Witness, 2)
			_assert.Empty(t, txIn.Witness[0])
			_assert.Equal(t, byte(txscript.SigHashAll), txIn.Witness[1][len(txIn.Witness[1])-1])
		}
	})

	t.Run("witness order", func(t *testing.T) {
		pk1, _ := oracle.PublicKey(context.Background(), testCustodyKey, uw.DerivationPath)
		pk2, _ := oracle.PublicKey(context.Background(), testFiduciaryKey, uw.DerivationPath)
		sigHashes := last.SigHashes()

		for i, txIn := range last.Tx().TxIn {
			_assert.Len(t, txIn.Witness, 4)
			_assert.Empty(t, txIn.Witness[0])
			_assert.Equal(t, uw.WitnessScript, []byte(txIn.Witness[3]))

			for j, pk := range [][]byte{pk1, pk2} {
				element := txIn.Witness[1+j]
				sig, err := ecdsa.ParseDERSignature(element[:len(element)-1])
				_assert.NoError(t, err)
				pubKey, err := ParseCompressedPublicKey(pk)
				_assert.NoError(t, err)
				_assert.True(t, sig.Verify(sigHashes[i][:], pubKey), "signature %d of input %d", j, i)
			}
		}
	})

	t.Run("verifies in the script engine", func(t *testing.T) {
		verifyTx(t, last.Tx(), GetP2WSHWitnessProgram(uw.WitnessScript), values)
	})

	t.Run("placeholders are never smaller", func(t *testing.T) {
		estimate := signPlaceholders(unsigned.Tx(), uw.WitnessScript)
		_assert.True(t, estimate.SerializeSize() >= last.Tx().SerializeSize())
	})

	t.Run("does not touch its input", func(t *testing.T) {
		stage, err := unsigned.Stage()
		_assert.NoError(t, err)
		_assert.Equal(t, StageUnsigned, stage)

		stage, err = first.Stage()
		_assert.NoError(t, err)
		_assert.Equal(t, StageAwaitingLast, stage)
	})

	t.Run("first pass replaces existing witnesses", func(t *testing.T) {
		again, err := SignBundle(context.Background(), last, oracle, testCustodyKey, uw.DerivationPath, PositionFirst)
		_assert.NoError(t, err)
		_assert.True(t, again.Equal(first))
	})
}

func TestSignBundleFailures(t *testing.T) {
	oracle := &testOracle{}
	uw, unsigned := testBundle(t, oracle)

	t.Run("last without first", func(t *testing.T) {
		_, err := SignBundle(context.Background(), unsigned, oracle, testFiduciaryKey, uw.DerivationPath, PositionLast)
		_assert.ErrorIs(t, err, ErrBundleStage)
	})

	t.Run("last twice", func(t *testing.T) {
		first, err := SignBundle(context.Background(), unsigned, oracle, testCustodyKey, uw.DerivationPath, PositionFirst)
		_assert.NoError(t, err)
		last, err := SignBundle(context.Background(), first, oracle, testFiduciaryKey, uw.DerivationPath, PositionLast)
		_assert.NoError(t, err)

		_, err = SignBundle(context.Background(), last, oracle, testFiduciaryKey, uw.DerivationPath, PositionLast)
		_assert.ErrorIs(t, err, ErrBundleStage)
	})

	t.Run("oracle error", func(t *testing.T) {
		failing := &testOracle{err: errors.New("key unavailable")}
		_, err := SignBundle(context.Background(), unsigned, failing, testCustodyKey, uw.DerivationPath, PositionFirst)
		_assert.ErrorIs(t, err, ErrSigningFailure)
		_assert.Equal(t, 1, failing.signCalls)
	})

	t.Run("short signature", func(t *testing.T) {
		short := &testOracle{shortSigs: true}
		_, err := SignBundle(context.Background(), unsigned, short, testCustodyKey, uw.DerivationPath, PositionFirst)
		_assert.ErrorIs(t, err, ErrSigningFailure)
	})
}
