package bip32util

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pkg/errors"
)

var (
	// ErrKeyPathMismatch is produced by Key.init when
	// the path doesn't match an attribute of the key.
	ErrKeyPathMismatch = errors.New("key matched with wrong path, both should equal")

	// ErrBadRootKey is produced by when the provided
	// key doesn't match the expected attributes of a _root_
	// BIP32 key.
	ErrBadRootKey = errors.New("root key must have a depth and parent fingerprint of 0")

	// ErrKeyIsAlreadyPublic is returned when a codepath
	// requests a public key be converted to a public key.
	ErrKeyIsAlreadyPublic = errors.New("key is already public")
)

// NewBip32MasterKey will initialize a Key from a provided root ExtendedKey
func NewBip32MasterKey(key *hdkeychain.ExtendedKey) (*Key, error) {
	if key.ParentFingerprint() != 0 || key.Depth() != 0 {
		return nil, ErrBadRootKey
	}

	if key.IsPrivate() {
		return NewBip32Key(key, NewPrivatePath())
	}

	return NewBip32Key(key, NewPublicPath())
}

// NewBip32MasterKeyFromString parses a serialized root key
// (xprv, tprv, xpub, ...).
func NewBip32MasterKeyFromString(serialized string) (*Key, error) {
	key, err := hdkeychain.NewKeyFromString(serialized)
	if err != nil {
		return nil, errors.Wrap(err, "invalid extended key")
	}

	return NewBip32MasterKey(key)
}

// NewBip32Key will initialize a Key from a provided ExtendedKey and Path
func NewBip32Key(key *hdkeychain.ExtendedKey, path *Path) (*Key, error) {
	if path.IsPrivate() != key.IsPrivate() {
		return nil, ErrKeyPathMismatch
	}

	if path.Depth() != int(key.Depth()) {
		return nil, ErrKeyPathMismatch
	}

	return &Key{
		Key:  key,
		Path: path,
	}, nil
}

// Key captures a BIP32 key, which is somewhat lossy
// in the information it includes, with the entire
// derivation path.
type Key struct {
	Key  *hdkeychain.ExtendedKey
	Path *Path
}

// Child takes a sequence number and derives a child
// key. Called repetitively to derive a path.
func (k *Key) Child(sequence uint32) (*Key, error) {
	newPath, err := k.Path.Child(sequence)
	if err != nil {
		return nil, err
	}

	newKey, err := k.Key.Derive(sequence)
	if err != nil {
		return nil, err
	}

	return &Key{newKey, newPath}, nil
}

// DerivePath derives the key at path, which must extend
// the path of k.
func (k *Key) DerivePath(path *Path) (*Key, error) {
	if !k.Path.IsContainedIn(path) {
		return nil, ErrPathNotContained
	}

	key := k
	for _, sequence := range path.Path[k.Path.Depth():] {
		var err error
		key, err = key.Child(sequence)
		if err != nil {
			return nil, err
		}
	}

	return key, nil
}

// IsPrivate returns true if the key is private,
// false if public.
func (k *Key) IsPrivate() bool {
	return k.Key.IsPrivate()
}

// PrivateKey returns the secp256k1 private key.
func (k *Key) PrivateKey() (*btcec.PrivateKey, error) {
	return k.Key.ECPrivKey()
}

// PublicKey returns the secp256k1 public key.
func (k *Key) PublicKey() (*btcec.PublicKey, error) {
	return k.Key.ECPubKey()
}

// ToPublic converts the key and it's path to
// the public form, or returns an error if the
// Key is already public.
func (k *Key) ToPublic() (*Key, error) {
	if !k.IsPrivate() {
		return nil, ErrKeyIsAlreadyPublic
	}

	key, err := k.Key.Neuter()
	if err != nil {
		return nil, err
	}

	return NewBip32Key(key, k.Path.ToPublic())
}
