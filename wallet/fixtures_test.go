package wallet

import (
	"context"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	_assert "github.com/stretchr/testify/require"
	"testing"
)

// * Test doubles shared by the package tests

const (
	testCustodyKey   = "custody_key"
	testFiduciaryKey = "fiduciary_key"
)

// testOracle derives a private key from sha256(keyName || path...),
// and signs with it.
type testOracle struct {
	err       error
	shortSigs bool
	pubCalls  int
	signCalls int
}

func (o *testOracle) privKey(keyName string, path DerivationPath) *btcec.PrivateKey {
	seed := []byte(keyName)
	for _, element := range path {
		seed = append(seed, element...)
	}
	privKey, _ := btcec.PrivKeyFromBytes(chainhash.HashB(seed))
	return privKey
}

func (o *testOracle) PublicKey(_ context.Context, keyName string, path DerivationPath) ([]byte, error) {
	o.pubCalls++
	if o.err != nil {
		return nil, o.err
	}
	return o.privKey(keyName, path).PubKey().SerializeCompressed(), nil
}

func (o *testOracle) Sign(_ context.Context, keyName string, path DerivationPath, digest []byte) ([]byte, error) {
	o.signCalls++
	if o.err != nil {
		return nil, o.err
	}
	sig, err := ecdsa.SignCompact(o.privKey(keyName, path), digest, true)
	if err != nil {
		return nil, err
	}
	if o.shortSigs {
		return sig[1:33], nil
	}
	return sig[1:], nil
}

// testChain is a ChainSource serving fixed values.
type testChain struct {
	utxos       []Utxo
	percentiles []uint64
	utxoErr     error
	feeErr      error
}

func (c *testChain) Utxos(context.Context, btcutil.Address) ([]Utxo, error) {
	return c.utxos, c.utxoErr
}

func (c *testChain) FeePercentiles(context.Context) ([]uint64, error) {
	return c.percentiles, c.feeErr
}

func (c *testChain) Balance(context.Context, btcutil.Address) (btcutil.Amount, error) {
	var total btcutil.Amount
	for _, utxo := range c.utxos {
		total += utxo.Value
	}
	return total, c.utxoErr
}

// testUtxos produces one UTXO per value, each with a distinct
// funding txid and a height matching its position.
func testUtxos(values ...btcutil.Amount) []Utxo {
	utxos := make([]Utxo, len(values))
	for i, value := range values {
		utxos[i] = Utxo{
			OutPoint: *wire.NewOutPoint(&chainhash.Hash{byte(i + 1)}, uint32(i)),
			Value:    value,
			Height:   uint32(100 + i),
		}
	}
	return utxos
}

// testWallet derives the wallet of id from the test oracle.
func testWallet(t *testing.T, oracle *testOracle, id Identity) *UserWallet {
	path := NewDerivationPath(id)
	pk1, err := oracle.PublicKey(context.Background(), testCustodyKey, path)
	_assert.NoError(t, err)
	pk2, err := oracle.PublicKey(context.Background(), testFiduciaryKey, path)
	_assert.NoError(t, err)

	uw, err := NewUserWallet(id, pk1, pk2, &chaincfg.RegressionNetParams)
	_assert.NoError(t, err)
	return uw
}

// testDestination returns a regtest P2WPKH address.
func testDestination(t *testing.T) string {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160([]byte("destination")), &chaincfg.RegressionNetParams)
	_assert.NoError(t, err)
	return addr.String()
}

// addrToScript takes a generic address instance and
// produces it's scriptPubKey
func addrToScript(t *testing.T, addr btcutil.Address) []byte {
	script, err := txscript.PayToAddrScript(addr)
	_assert.NoError(t, err, "payToAddrScript should work for address")
	return script
}

// verifyTx runs every input of tx through the script engine.
func verifyTx(t *testing.T, tx *wire.MsgTx, pkScript []byte, values []btcutil.Amount) {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		prevOuts[txIn.PreviousOutPoint] = wire.NewTxOut(int64(values[i]), pkScript)
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i := range tx.TxIn {
		vm, err := txscript.NewEngine(pkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, int64(values[i]), fetcher)
		_assert.NoError(t, err)
		_assert.NoError(t, vm.Execute(), "input %d should verify", i)
	}
}
