package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/pkg/errors"
)

// multisigRequired is the number of signatures the
// witness script asks for.
const multisigRequired = 2

// ParseCompressedPublicKey checks keyBytes is a 33 byte
// compressed secp256k1 point.
func ParseCompressedPublicKey(keyBytes []byte) (*btcec.PublicKey, error) {
	if len(keyBytes) != btcec.PubKeyBytesLenCompressed {
		return nil, errors.Errorf("Invalid length of public key: %d", len(keyBytes))
	}

	switch keyBytes[0] {
	case 0x02, 0x03:
	default:
		return nil, errors.New("Invalid prefix for public key")
	}

	pubKey, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse public key failed")
	}

	return pubKey, nil
}

// MultisigWitnessScript builds OP_2 <pk1> <pk2> OP_2 OP_CHECKMULTISIG.
// The keys are kept in the order given: custody first, fiduciary
// second. They are never sorted.
func MultisigWitnessScript(pk1, pk2 []byte) ([]byte, error) {
	for _, pk := range [][]byte{pk1, pk2} {
		if _, err := ParseCompressedPublicKey(pk); err != nil {
			return nil, err
		}
	}

	return txscript.NewScriptBuilder().
		AddInt64(multisigRequired).
		AddData(pk1).
		AddData(pk2).
		AddInt64(multisigRequired).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

// GetP2WSHWitnessProgram computes the sha256 hash
// of the provided witness script and encodes this
// into a segwit v0 p2wsh witness program.
func GetP2WSHWitnessProgram(ws []byte) []byte {
	scriptHash := chainhash.HashB(ws)
	wp := []byte{txscript.OP_0, txscript.OP_DATA_32}
	wp = append(wp, scriptHash...)

	return wp
}

// WitnessScriptAddress returns the P2WSH address committing
// to the witness script.
func WitnessScriptAddress(ws []byte, params *chaincfg.Params) (*btcutil.AddressWitnessScriptHash, error) {
	return btcutil.NewAddressWitnessScriptHash(chainhash.HashB(ws), params)
}

// NewUserWallet derives the wallet of an identity from the
// custody (pk1) and fiduciary (pk2) public keys.
func NewUserWallet(id Identity, pk1, pk2 []byte, params *chaincfg.Params) (*UserWallet, error) {
	if id.IsAnonymous() {
		return nil, ErrInvalidIdentity
	}

	ws, err := MultisigWitnessScript(pk1, pk2)
	if err != nil {
		return nil, err
	}

	addr, err := WitnessScriptAddress(ws, params)
	if err != nil {
		return nil, err
	}

	return &UserWallet{
		Identity:       id,
		WitnessScript:  ws,
		Address:        addr,
		DerivationPath: NewDerivationPath(id),
	}, nil
}
