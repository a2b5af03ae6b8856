package wallet

import (
	"context"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// AnonymousIdentity is the identity of a caller who
// did not authenticate. It never owns a wallet.
const AnonymousIdentity Identity = ""

// Identity is the opaque, stable identifier of an end user.
type Identity string

// IsAnonymous returns whether the identity is the
// anonymous caller.
func (id Identity) IsAnonymous() bool {
	return id == AnonymousIdentity
}

// Bytes returns the canonical byte encoding of the identity,
// which is also the single element of its derivation path.
func (id Identity) Bytes() []byte {
	return []byte(id)
}

// DerivationPath is the opaque path handed to a signing
// oracle to select a child key. Every element is an
// arbitrary byte string.
type DerivationPath [][]byte

// NewDerivationPath returns the derivation path used for
// both of the identity's keys.
func NewDerivationPath(id Identity) DerivationPath {
	return DerivationPath{id.Bytes()}
}

// Copy returns a deep copy of the path.
func (p DerivationPath) Copy() DerivationPath {
	path := make(DerivationPath, len(p))
	for i := range p {
		path[i] = append([]byte{}, p[i]...)
	}
	return path
}

// SigningOracle is a contract whereby implementations hold
// master keys under a key name, and derive public keys
// and raw (r || s) signatures for a derivation path.
type SigningOracle interface {
	// PublicKey returns the 33 byte compressed key at path.
	PublicKey(ctx context.Context, keyName string, path DerivationPath) ([]byte, error)

	// Sign returns the 64 byte r || s signature of digest
	// by the key at path.
	Sign(ctx context.Context, keyName string, path DerivationPath, digest []byte) ([]byte, error)
}

// ChainSource provides the chain state the transaction
// builder needs.
type ChainSource interface {
	// Utxos returns the unspent outputs paying to addr.
	Utxos(ctx context.Context, addr btcutil.Address) ([]Utxo, error)

	// FeePercentiles returns recent fee rates in millisatoshi
	// per byte, where the slice index is the percentile. An
	// empty slice means no sample is available.
	FeePercentiles(ctx context.Context) ([]uint64, error)

	// Balance returns the confirmed balance of addr.
	Balance(ctx context.Context, addr btcutil.Address) (btcutil.Amount, error)
}

// Broadcaster submits a finished transaction to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
}

// Utxo is an unspent output owned by a wallet address.
type Utxo struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	Height   uint32
}

// UserWallet binds an identity to its 2-of-2 witness script
// and the P2WSH address derived from it. A UserWallet is
// created once and never changes.
type UserWallet struct {
	Identity       Identity
	WitnessScript  []byte
	Address        btcutil.Address
	DerivationPath DerivationPath
}
