package registry

import (
	"bytes"
	"context"
	"errors"
	"github.com/btccom/btccustody/bip32util"
	"github.com/btccom/btccustody/keystore"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	_assert "github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
)

// testKeySource derives keys from sha256(seed || path...).
type testKeySource struct {
	seed  byte
	err   error
	calls int32
}

func (s *testKeySource) PublicKey(_ context.Context, path wallet.DerivationPath) ([]byte, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}

	preimage := []byte{s.seed}
	for _, element := range path {
		preimage = append(preimage, element...)
	}
	privKey, _ := btcec.PrivKeyFromBytes(chainhash.HashB(preimage))
	return privKey.PubKey().SerializeCompressed(), nil
}

func (s *testKeySource) numCalls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func testStore(t *testing.T) *DBStore {
	store, err := OpenDBStore(t.TempDir(), wallet.BtcRegtestNetwork.Params)
	_assert.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	custody := &testKeySource{seed: 1}
	fiduciary := &testKeySource{seed: 2}
	registry := New(wallet.BtcRegtestNetwork, testStore(t), custody, fiduciary)

	uw, err := registry.GetOrCreate(ctx, "alice")
	_assert.NoError(t, err)
	_assert.Equal(t, 1, custody.numCalls())
	_assert.Equal(t, 1, fiduciary.numCalls())

	t.Run("derives the script from both keys in order", func(t *testing.T) {
		pk1, _ := (&testKeySource{seed: 1}).PublicKey(ctx, wallet.NewDerivationPath("alice"))
		pk2, _ := (&testKeySource{seed: 2}).PublicKey(ctx, wallet.NewDerivationPath("alice"))
		expected, err := wallet.NewUserWallet("alice", pk1, pk2, wallet.BtcRegtestNetwork.Params)
		_assert.NoError(t, err)
		_assert.Equal(t, expected.WitnessScript, uw.WitnessScript)
		_assert.Equal(t, expected.Address.String(), uw.Address.String())
		_assert.Equal(t, wallet.DerivationPath{[]byte("alice")}, uw.DerivationPath)
	})

	t.Run("is idempotent without key requests", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			again, err := registry.GetOrCreate(ctx, "alice")
			_assert.NoError(t, err)
			_assert.Equal(t, uw.Address.String(), again.Address.String())
		}
		_assert.Equal(t, 1, custody.numCalls())
		_assert.Equal(t, 1, fiduciary.numCalls())
	})

	t.Run("separate identities get separate wallets", func(t *testing.T) {
		bob, err := registry.GetOrCreate(ctx, "bob")
		_assert.NoError(t, err)
		_assert.NotEqual(t, uw.Address.String(), bob.Address.String())
		_assert.Equal(t, 2, custody.numCalls())
	})

	t.Run("rejects anonymous before key requests", func(t *testing.T) {
		before := custody.numCalls() + fiduciary.numCalls()
		_, err := registry.GetOrCreate(ctx, wallet.AnonymousIdentity)
		_assert.ErrorIs(t, err, wallet.ErrInvalidIdentity)
		_assert.Equal(t, before, custody.numCalls()+fiduciary.numCalls())
	})
}

func TestGetOrCreatePersists(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	first := New(wallet.BtcRegtestNetwork, store, &testKeySource{seed: 1}, &testKeySource{seed: 2})
	uw, err := first.GetOrCreate(ctx, "alice")
	_assert.NoError(t, err)

	custody := &testKeySource{seed: 1}
	fiduciary := &testKeySource{seed: 2}
	second := New(wallet.BtcRegtestNetwork, store, custody, fiduciary)

	again, err := second.GetOrCreate(ctx, "alice")
	_assert.NoError(t, err)
	_assert.Equal(t, uw.Address.String(), again.Address.String())
	_assert.Equal(t, uw.WitnessScript, again.WitnessScript)
	_assert.Equal(t, 0, custody.numCalls())
	_assert.Equal(t, 0, fiduciary.numCalls())
}

func TestGetOrCreateFailures(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	fixtures := []struct {
		name      string
		custody   *testKeySource
		fiduciary *testKeySource
	}{
		{"custody fails", &testKeySource{seed: 1, err: errors.New("down")}, &testKeySource{seed: 2}},
		{"fiduciary fails", &testKeySource{seed: 1}, &testKeySource{seed: 2, err: errors.New("down")}},
	}

	for i := 0; i < len(fixtures); i++ {
		fixture := fixtures[i]
		t.Run(fixture.name, func(t *testing.T) {
			registry := New(wallet.BtcRegtestNetwork, store, fixture.custody, fixture.fiduciary)
			_, err := registry.GetOrCreate(ctx, "carol")
			_assert.ErrorIs(t, err, wallet.ErrSigningFailure)

			_, err = registry.Get("carol")
			_assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
		})
	}

	t.Run("malformed key", func(t *testing.T) {
		registry := New(wallet.BtcRegtestNetwork, store, &badKeySource{}, &testKeySource{seed: 2})
		_, err := registry.GetOrCreate(ctx, "carol")
		_assert.ErrorIs(t, err, wallet.ErrSigningFailure)
	})

	t.Run("retries after a failure", func(t *testing.T) {
		custody := &testKeySource{seed: 1, err: errors.New("down")}
		registry := New(wallet.BtcRegtestNetwork, store, custody, &testKeySource{seed: 2})
		_, err := registry.GetOrCreate(ctx, "dave")
		_assert.Error(t, err)

		custody.err = nil
		uw, err := registry.GetOrCreate(ctx, "dave")
		_assert.NoError(t, err)
		_assert.NotNil(t, uw.Address)
		_assert.Equal(t, 2, custody.numCalls())
	})
}

type badKeySource struct{}

// fixedKeySource returns the same key for every path.
type fixedKeySource struct {
	seed byte
}

func (s fixedKeySource) PublicKey(context.Context, wallet.DerivationPath) ([]byte, error) {
	privKey, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte{s.seed}))
	return privKey.PubKey().SerializeCompressed(), nil
}

func TestGetOrCreateAddressOwnership(t *testing.T) {
	ctx := context.Background()

	t.Run("refuses a script owned by another identity", func(t *testing.T) {
		registry := New(wallet.BtcRegtestNetwork, testStore(t), fixedKeySource{seed: 1}, fixedKeySource{seed: 2})
		alice, err := registry.GetOrCreate(ctx, "alice")
		_assert.NoError(t, err)

		_, err = registry.GetOrCreate(ctx, "bob")
		_assert.ErrorIs(t, err, ErrAddressInUse)

		_, err = registry.Get("bob")
		_assert.ErrorIs(t, err, wallet.ErrWalletNotFound)

		again, err := registry.GetOrCreate(ctx, "alice")
		_assert.NoError(t, err)
		_assert.Equal(t, alice.Address.String(), again.Address.String())
	})

	t.Run("keystore identities with a shared hash prefix", func(t *testing.T) {
		accountPath, err := bip32util.NewPathFromString("m/48'/1'")
		_assert.NoError(t, err)

		keys := keystore.New(accountPath)
		for i, name := range []string{"custody", "fiduciary"} {
			master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{byte(i + 1)}, 32), &chaincfg.RegressionNetParams)
			_assert.NoError(t, err)
			_assert.NoError(t, keys.AddKey(name, master.String()))
		}

		registry := New(wallet.BtcRegtestNetwork, testStore(t),
			&OracleKeySource{Oracle: keys, KeyName: "custody"},
			&OracleKeySource{Oracle: keys, KeyName: "fiduciary"})

		first, err := registry.GetOrCreate(ctx, "user-20491")
		_assert.NoError(t, err)
		second, err := registry.GetOrCreate(ctx, "user-32057")
		_assert.NoError(t, err)
		_assert.NotEqual(t, first.Address.String(), second.Address.String())
	})
}

func (badKeySource) PublicKey(context.Context, wallet.DerivationPath) ([]byte, error) {
	return []byte{0x02, 0x01}, nil
}

func TestGetOrCreateConcurrent(t *testing.T) {
	custody := &testKeySource{seed: 1}
	fiduciary := &testKeySource{seed: 2}
	registry := New(wallet.BtcRegtestNetwork, testStore(t), custody, fiduciary)

	const callers = 16
	addresses := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uw, err := registry.GetOrCreate(context.Background(), "alice")
			if err == nil {
				addresses[i] = uw.Address.String()
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		_assert.NotEmpty(t, addresses[i])
		_assert.Equal(t, addresses[0], addresses[i])
	}
	_assert.Equal(t, 1, custody.numCalls())
	_assert.Equal(t, 1, fiduciary.numCalls())
}

func TestOracleKeySource(t *testing.T) {
	oracle := &recordingOracle{}
	source := &OracleKeySource{Oracle: oracle, KeyName: "dfx_test_key"}

	_, err := source.PublicKey(context.Background(), wallet.NewDerivationPath("alice"))
	_assert.NoError(t, err)
	_assert.Equal(t, "dfx_test_key", oracle.keyName)
	_assert.Equal(t, wallet.DerivationPath{[]byte("alice")}, oracle.path)
}

type recordingOracle struct {
	keyName string
	path    wallet.DerivationPath
}

func (o *recordingOracle) PublicKey(_ context.Context, keyName string, path wallet.DerivationPath) ([]byte, error) {
	o.keyName = keyName
	o.path = path
	return make([]byte, 33), nil
}

func (o *recordingOracle) Sign(context.Context, string, wallet.DerivationPath, []byte) ([]byte, error) {
	return nil, errors.New("not used")
}
