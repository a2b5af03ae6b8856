package wallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	_assert "github.com/stretchr/testify/require"
	"testing"
)

func TestCalcSigHashes(t *testing.T) {
	uw := testWallet(t, &testOracle{}, "alice")
	coins := testUtxos(50000, 30000)
	destScript := addrToScript(t, uw.Address)

	tx, values, err := buildWithFee(coins, destScript, destScript, 60000, 500)
	_assert.NoError(t, err)
	_assert.Len(t, tx.TxIn, 2)

	t.Run("is deterministic", func(t *testing.T) {
		hashes1, err := CalcSigHashes(tx, uw.WitnessScript, values)
		_assert.NoError(t, err)
		hashes2, err := CalcSigHashes(tx.Copy(), uw.WitnessScript, values)
		_assert.NoError(t, err)
		_assert.Equal(t, hashes1, hashes2)
		_assert.NotEqual(t, hashes1[0], hashes1[1])
	})

	t.Run("commits to the spent value", func(t *testing.T) {
		hashes1, err := CalcSigHashes(tx, uw.WitnessScript, values)
		_assert.NoError(t, err)
		hashes2, err := CalcSigHashes(tx, uw.WitnessScript, []btcutil.Amount{values[0] + 1, values[1]})
		_assert.NoError(t, err)
		_assert.NotEqual(t, hashes1[0], hashes2[0])
	})

	t.Run("ignores witnesses", func(t *testing.T) {
		hashes1, err := CalcSigHashes(tx, uw.WitnessScript, values)
		_assert.NoError(t, err)
		signed := signPlaceholders(tx, uw.WitnessScript)
		hashes2, err := CalcSigHashes(signed, uw.WitnessScript, values)
		_assert.NoError(t, err)
		_assert.Equal(t, hashes1, hashes2)
	})

	t.Run("panics on value count mismatch", func(t *testing.T) {
		_assert.Panics(t, func() {
			_, _ = CalcSigHashes(tx, uw.WitnessScript, values[:1])
		})
		_assert.Panics(t, func() {
			_, _ = CalcSigHashes(wire.NewMsgTx(txVersion), uw.WitnessScript, values)
		})
	})
}
