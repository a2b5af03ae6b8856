// Package registry maps end-user identities to their 2-of-2
// wallets. A wallet is derived on first use from one public key
// of each signing service and stays the same forever after.
package registry

import (
	"context"
	"github.com/btccom/btccustody/wallet"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"sync"
)

// PublicKeySource returns the public key one signing
// service holds for a derivation path.
type PublicKeySource interface {
	PublicKey(ctx context.Context, path wallet.DerivationPath) ([]byte, error)
}

// OracleKeySource adapts a local signing oracle and a
// key name into a PublicKeySource.
type OracleKeySource struct {
	Oracle  wallet.SigningOracle
	KeyName string
}

// PublicKey implements PublicKeySource.
func (s *OracleKeySource) PublicKey(ctx context.Context, path wallet.DerivationPath) ([]byte, error) {
	return s.Oracle.PublicKey(ctx, s.KeyName, path)
}

// Registry is the identity to wallet map of the custody
// service. It is safe for concurrent use.
type Registry struct {
	network   *wallet.Network
	store     Store
	custody   PublicKeySource
	fiduciary PublicKeySource

	mtx      sync.RWMutex
	cache    map[wallet.Identity]*wallet.UserWallet
	inflight singleflight.Group
}

// New creates a Registry persisting into store and deriving
// new wallets from the custody key (first) and the fiduciary
// key (second).
func New(network *wallet.Network, store Store, custody, fiduciary PublicKeySource) *Registry {
	return &Registry{
		network:   network,
		store:     store,
		custody:   custody,
		fiduciary: fiduciary,
		cache:     make(map[wallet.Identity]*wallet.UserWallet),
	}
}

// Get returns the wallet of id without creating it.
func (r *Registry) Get(id wallet.Identity) (*wallet.UserWallet, error) {
	if id.IsAnonymous() {
		return nil, wallet.ErrInvalidIdentity
	}

	if uw := r.cached(id); uw != nil {
		return uw, nil
	}

	uw, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}

	r.remember(uw)
	return uw, nil
}

// GetOrCreate returns the wallet of id, deriving and storing
// it on first use. Concurrent first calls for one identity
// share a single derivation. Nothing is stored when either
// key request fails.
func (r *Registry) GetOrCreate(ctx context.Context, id wallet.Identity) (*wallet.UserWallet, error) {
	if id.IsAnonymous() {
		return nil, wallet.ErrInvalidIdentity
	}

	if uw := r.cached(id); uw != nil {
		return uw, nil
	}

	result, err, _ := r.inflight.Do(string(id), func() (interface{}, error) {
		uw, err := r.Get(id)
		if err == nil {
			return uw, nil
		}
		if !errors.Is(err, wallet.ErrWalletNotFound) {
			return nil, err
		}

		uw, err = r.derive(ctx, id)
		if err != nil {
			return nil, err
		}

		uw, err = r.store.PutIfAbsent(uw)
		if err != nil {
			return nil, errors.Wrap(err, "cannot store wallet")
		}

		log.Infof("Created wallet %s for %s", uw.Address, id)

		r.remember(uw)
		return uw, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*wallet.UserWallet), nil
}

func (r *Registry) derive(ctx context.Context, id wallet.Identity) (*wallet.UserWallet, error) {
	path := wallet.NewDerivationPath(id)

	pk1, err := r.custody.PublicKey(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrSigningFailure, "custody public key: %v", err)
	}

	pk2, err := r.fiduciary.PublicKey(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrSigningFailure, "fiduciary public key: %v", err)
	}

	uw, err := wallet.NewUserWallet(id, pk1, pk2, r.network.Params)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrSigningFailure, "%v", err)
	}

	return uw, nil
}

func (r *Registry) cached(id wallet.Identity) *wallet.UserWallet {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.cache[id]
}

func (r *Registry) remember(uw *wallet.UserWallet) {
	r.mtx.Lock()
	r.cache[uw.Identity] = uw
	r.mtx.Unlock()
}
