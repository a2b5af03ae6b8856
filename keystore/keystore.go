// Package keystore is a signing oracle backed by BIP32 master
// keys held in memory. Every key name maps to one master key;
// a derivation path selects a hardened child of the configured
// account path.
package keystore

import (
	"context"
	"github.com/btccom/btccustody/bip32util"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"sync"
)

var (
	// ErrUnknownKey is returned for a key name that was
	// never added.
	ErrUnknownKey = errors.New("unknown key name")

	// ErrPublicMasterKey is returned when a public
	// extended key is added.
	ErrPublicMasterKey = errors.New("master key must be private")
)

// KeyStore implements wallet.SigningOracle.
type KeyStore struct {
	mtx         sync.RWMutex
	accountPath *bip32util.Path
	keys        map[string]*bip32util.Key
}

// New creates an empty KeyStore deriving user keys below
// accountPath. A nil accountPath means the master key itself.
func New(accountPath *bip32util.Path) *KeyStore {
	if accountPath == nil {
		accountPath = bip32util.NewPrivatePath()
	}

	return &KeyStore{
		accountPath: accountPath,
		keys:        make(map[string]*bip32util.Key),
	}
}

// AddKey parses a serialized private master key and stores
// it under name, replacing any previous key of that name.
func (s *KeyStore) AddKey(name string, serialized string) error {
	key, err := bip32util.NewBip32MasterKeyFromString(serialized)
	if err != nil {
		return err
	}
	if !key.IsPrivate() {
		return ErrPublicMasterKey
	}

	s.mtx.Lock()
	s.keys[name] = key
	s.mtx.Unlock()

	log.Infof("Loaded master key %q, deriving below %s", name, s.accountPath)

	return nil
}

// derive returns the child key of keyName at path.
func (s *KeyStore) derive(keyName string, path wallet.DerivationPath) (*bip32util.Key, error) {
	s.mtx.RLock()
	master, ok := s.keys[keyName]
	s.mtx.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKey, "%q", keyName)
	}

	childPath, err := s.accountPath.Extend(path)
	if err != nil {
		return nil, err
	}

	child, err := master.DerivePath(childPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot derive %s", childPath)
	}

	log.Tracef("Derived %s of key %q", childPath, keyName)

	return child, nil
}

// PublicKey returns the compressed public key of keyName at path.
func (s *KeyStore) PublicKey(_ context.Context, keyName string, path wallet.DerivationPath) ([]byte, error) {
	child, err := s.derive(keyName, path)
	if err != nil {
		return nil, err
	}

	pubKey, err := child.PublicKey()
	if err != nil {
		return nil, err
	}

	return pubKey.SerializeCompressed(), nil
}

// Sign returns the raw r || s signature of a 32 byte digest.
func (s *KeyStore) Sign(_ context.Context, keyName string, path wallet.DerivationPath, digest []byte) ([]byte, error) {
	if len(digest) != chainhash.HashSize {
		return nil, errors.Errorf("digest must be %d bytes, got %d", chainhash.HashSize, len(digest))
	}

	child, err := s.derive(keyName, path)
	if err != nil {
		return nil, err
	}

	privKey, err := child.PrivateKey()
	if err != nil {
		return nil, err
	}

	// compact signatures are [recovery id || r || s]
	compact, err := ecdsa.SignCompact(privKey, digest, true)
	if err != nil {
		return nil, errors.Wrap(err, "signing failed")
	}

	return compact[1:], nil
}
