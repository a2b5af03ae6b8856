package custody

import (
	"bytes"
	"context"
	"errors"
	"github.com/btccom/btccustody/fiduciary"
	"github.com/btccom/btccustody/keystore"
	"github.com/btccom/btccustody/registry"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	_assert "github.com/stretchr/testify/require"
	"testing"
)

type testChain struct {
	utxos       []wallet.Utxo
	percentiles []uint64
	err         error
}

func (c *testChain) Utxos(context.Context, btcutil.Address) ([]wallet.Utxo, error) {
	return c.utxos, c.err
}

func (c *testChain) FeePercentiles(context.Context) ([]uint64, error) {
	return c.percentiles, c.err
}

func (c *testChain) Balance(context.Context, btcutil.Address) (btcutil.Amount, error) {
	var total btcutil.Amount
	for _, utxo := range c.utxos {
		total += utxo.Value
	}
	return total, c.err
}

type testBroadcaster struct {
	txs []*wire.MsgTx
}

func (b *testBroadcaster) Broadcast(_ context.Context, tx *wire.MsgTx) error {
	b.txs = append(b.txs, tx)
	return nil
}

// testPartner talks to an in-process fiduciary.
type testPartner struct {
	fiduciary *fiduciary.Service
	err       error
	pubCalls  int
	signCalls int
}

func (p *testPartner) PublicKey(ctx context.Context, path wallet.DerivationPath) ([]byte, error) {
	p.pubCalls++
	if p.err != nil {
		return nil, p.err
	}
	return p.fiduciary.PublicKey(ctx, wallet.NetBtcRegtest, path)
}

func (p *testPartner) SignForCustody(ctx context.Context, path wallet.DerivationPath, digest []byte) ([]byte, error) {
	p.signCalls++
	if p.err != nil {
		return nil, p.err
	}
	return p.fiduciary.SignForCustody(ctx, wallet.NetBtcRegtest, path, digest)
}

type testEnv struct {
	custody     *Service
	fiduciary   *fiduciary.Service
	partner     *testPartner
	chain       *testChain
	broadcaster *testBroadcaster
	store       *registry.DBStore
}

func testKeyStore(t *testing.T, fill byte) *keystore.KeyStore {
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{fill}, 32), &chaincfg.RegressionNetParams)
	_assert.NoError(t, err)

	store := keystore.New(nil)
	_assert.NoError(t, store.AddKey(wallet.BtcRegtestNetwork.CustodyKeyName, master.String()))
	return store
}

func newTestEnv(t *testing.T, values ...btcutil.Amount) *testEnv {
	store, err := registry.OpenDBStore(t.TempDir(), wallet.BtcRegtestNetwork.Params)
	_assert.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	chain := &testChain{}
	for i, value := range values {
		chain.utxos = append(chain.utxos, wallet.Utxo{
			OutPoint: *wire.NewOutPoint(&chainhash.Hash{byte(i + 1)}, uint32(i)),
			Value:    value,
			Height:   uint32(100 + i),
		})
	}

	broadcaster := &testBroadcaster{}
	fiduciaryService := fiduciary.New(wallet.BtcRegtestNetwork, "", testKeyStore(t, 0x02), broadcaster)
	partner := &testPartner{fiduciary: fiduciaryService}

	custodyService := New(&Config{Network: wallet.BtcRegtestNetwork}, store, testKeyStore(t, 0x01),
		partner, chain, broadcaster)

	return &testEnv{
		custody:     custodyService,
		fiduciary:   fiduciaryService,
		partner:     partner,
		chain:       chain,
		broadcaster: broadcaster,
		store:       store,
	}
}

func testDestination(t *testing.T) string {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160([]byte("destination")), &chaincfg.RegressionNetParams)
	_assert.NoError(t, err)
	return addr.String()
}

// verifyTx runs every input of tx through the script engine,
// looking the spent values up in utxos.
func verifyTx(t *testing.T, tx *wire.MsgTx, address btcutil.Address, utxos []wallet.Utxo) {
	pkScript, err := txscript.PayToAddrScript(address)
	_assert.NoError(t, err)

	values := make(map[wire.OutPoint]int64, len(utxos))
	for _, utxo := range utxos {
		values[utxo.OutPoint] = int64(utxo.Value)
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	for _, txIn := range tx.TxIn {
		prevOuts[txIn.PreviousOutPoint] = wire.NewTxOut(values[txIn.PreviousOutPoint], pkScript)
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, txIn := range tx.TxIn {
		vm, err := txscript.NewEngine(pkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, values[txIn.PreviousOutPoint], fetcher)
		_assert.NoError(t, err)
		_assert.NoError(t, vm.Execute(), "input %d should verify", i)
	}
}

func TestGetOrCreateWallet(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_assert.Equal(t, "dfx_test_key", env.custody.KeyName())
	_assert.Equal(t, wallet.BtcRegtestNetwork, env.custody.Network())

	addr, err := env.custody.GetOrCreateWallet(ctx, "alice")
	_assert.NoError(t, err)
	_assert.True(t, addr.IsForNet(&chaincfg.RegressionNetParams))
	_assert.Equal(t, 1, env.partner.pubCalls)

	t.Run("is stable", func(t *testing.T) {
		again, err := env.custody.GetOrCreateWallet(ctx, "alice")
		_assert.NoError(t, err)
		_assert.Equal(t, addr.String(), again.String())
		_assert.Equal(t, 1, env.partner.pubCalls)
	})

	t.Run("is persisted", func(t *testing.T) {
		uw, err := env.store.Get("alice")
		_assert.NoError(t, err)
		_assert.Equal(t, addr.String(), uw.Address.String())
	})

	t.Run("rejects anonymous", func(t *testing.T) {
		_, err := env.custody.GetOrCreateWallet(ctx, wallet.AnonymousIdentity)
		_assert.ErrorIs(t, err, wallet.ErrInvalidIdentity)
		_assert.Equal(t, 1, env.partner.pubCalls)
	})

	t.Run("partner failure", func(t *testing.T) {
		env.partner.err = errors.New("unreachable")
		defer func() {
			env.partner.err = nil
		}()

		_, err := env.custody.GetOrCreateWallet(ctx, "bob")
		_assert.ErrorIs(t, err, wallet.ErrSigningFailure)

		_, err = env.store.Get("bob")
		_assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
	})
}

func TestSendRequestHandOff(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 50000, 30000, 20000)

	addr, err := env.custody.GetOrCreateWallet(ctx, "alice")
	_assert.NoError(t, err)

	raw, err := env.custody.InitSendRequest(ctx, "alice", testDestination(t), 40000)
	_assert.NoError(t, err)
	_assert.Empty(t, env.broadcaster.txs)

	bundle, err := wallet.BundleFromRaw(raw)
	_assert.NoError(t, err)
	stage, err := bundle.Stage()
	_assert.NoError(t, err)
	_assert.Equal(t, wallet.StageAwaitingLast, stage)

	// 20000 then 30000 covers 40000 plus the fee
	tx := bundle.Tx()
	_assert.Len(t, tx.TxIn, 2)
	_assert.Equal(t, env.chain.utxos[2].OutPoint, tx.TxIn[0].PreviousOutPoint)
	_assert.Equal(t, env.chain.utxos[1].OutPoint, tx.TxIn[1].PreviousOutPoint)
	_assert.Equal(t, int64(40000), tx.TxOut[0].Value)

	txid, err := env.fiduciary.FinalizeSendRequest(ctx, "alice", wallet.NetBtcRegtest, raw)
	_assert.NoError(t, err)
	_assert.Len(t, env.broadcaster.txs, 1)
	_assert.Equal(t, bundle.TxHash().String(), txid)
	_assert.Zero(t, env.partner.signCalls)

	verifyTx(t, env.broadcaster.txs[0], addr, env.chain.utxos)

	t.Run("someone else cannot finalize it", func(t *testing.T) {
		_, err := env.fiduciary.FinalizeSendRequest(ctx, "mallory", wallet.NetBtcRegtest, raw)
		_assert.NoError(t, err)
		_assert.Len(t, env.broadcaster.txs, 2)

		pkScript, err := txscript.PayToAddrScript(addr)
		_assert.NoError(t, err)
		tx := env.broadcaster.txs[1]
		prevOuts := txscript.NewCannedPrevOutputFetcher(pkScript, 20000)
		vm, err := txscript.NewEngine(pkScript, tx, 0, txscript.StandardVerifyFlags,
			nil, txscript.NewTxSigHashes(tx, prevOuts), 20000, prevOuts)
		_assert.NoError(t, err)
		_assert.Error(t, vm.Execute())
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 50000, 30000, 20000)

	addr, err := env.custody.GetOrCreateWallet(ctx, "alice")
	_assert.NoError(t, err)

	txid, err := env.custody.Send(ctx, "alice", testDestination(t), 40000)
	_assert.NoError(t, err)
	_assert.Len(t, env.broadcaster.txs, 1)
	_assert.Equal(t, env.broadcaster.txs[0].TxHash().String(), txid)
	_assert.Equal(t, 2, env.partner.signCalls)

	verifyTx(t, env.broadcaster.txs[0], addr, env.chain.utxos)

	t.Run("partner failure", func(t *testing.T) {
		env.partner.err = errors.New("unreachable")
		defer func() {
			env.partner.err = nil
		}()

		_, err := env.custody.Send(ctx, "alice", testDestination(t), 40000)
		_assert.ErrorIs(t, err, wallet.ErrSigningFailure)
		_assert.Len(t, env.broadcaster.txs, 1)
	})
}

func TestSendFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient balance", func(t *testing.T) {
		env := newTestEnv(t, 10000, 20000)
		_, err := env.custody.InitSendRequest(ctx, "alice", testDestination(t), 30000)
		_assert.ErrorIs(t, err, wallet.ErrInsufficientBalance)

		var balanceErr *wallet.InsufficientBalanceError
		_assert.True(t, errors.As(err, &balanceErr))
		_assert.Equal(t, btcutil.Amount(30000), balanceErr.Available)
	})

	t.Run("anonymous", func(t *testing.T) {
		env := newTestEnv(t, 50000)
		_, err := env.custody.InitSendRequest(ctx, wallet.AnonymousIdentity, testDestination(t), 100)
		_assert.ErrorIs(t, err, wallet.ErrInvalidIdentity)
	})

	t.Run("bad destination", func(t *testing.T) {
		env := newTestEnv(t, 50000)
		_, err := env.custody.InitSendRequest(ctx, "alice", "not-an-address", 100)
		_assert.ErrorIs(t, err, wallet.ErrInvalidDestination)
	})

	t.Run("chain failure", func(t *testing.T) {
		env := newTestEnv(t, 50000)
		env.chain.err = errors.New("timeout")
		_, err := env.custody.Send(ctx, "alice", testDestination(t), 100)
		_assert.ErrorIs(t, err, wallet.ErrOracleFailure)
		_assert.Empty(t, env.broadcaster.txs)
	})
}

func TestChainQueries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 50000, 30000)
	env.chain.percentiles = []uint64{1000, 2000, 3000}

	addr, err := env.custody.GetOrCreateWallet(ctx, "alice")
	_assert.NoError(t, err)

	balance, err := env.custody.Balance(ctx, addr.String())
	_assert.NoError(t, err)
	_assert.Equal(t, btcutil.Amount(80000), balance)

	utxos, err := env.custody.Utxos(ctx, addr.String())
	_assert.NoError(t, err)
	_assert.Equal(t, env.chain.utxos, utxos)

	percentiles, err := env.custody.FeePercentiles(ctx)
	_assert.NoError(t, err)
	_assert.Equal(t, []uint64{1000, 2000, 3000}, percentiles)

	t.Run("rejects foreign addresses", func(t *testing.T) {
		mainnet, err := btcutil.NewAddressWitnessPubKeyHash(make([]byte, 20), &chaincfg.MainNetParams)
		_assert.NoError(t, err)

		_, err = env.custody.Balance(ctx, mainnet.String())
		_assert.ErrorIs(t, err, wallet.ErrInvalidDestination)
		_, err = env.custody.Utxos(ctx, "garbage")
		_assert.ErrorIs(t, err, wallet.ErrInvalidDestination)
	})

	t.Run("wraps chain errors", func(t *testing.T) {
		env.chain.err = errors.New("down")
		defer func() {
			env.chain.err = nil
		}()

		_, err := env.custody.Balance(ctx, addr.String())
		_assert.ErrorIs(t, err, wallet.ErrOracleFailure)
		_, err = env.custody.FeePercentiles(ctx)
		_assert.ErrorIs(t, err, wallet.ErrOracleFailure)
	})
}
