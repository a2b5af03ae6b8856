package wallet

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/pkg/errors"
)

const (
	// NetBtc is the constant for the bitcoin network
	NetBtc = "btc"

	// NetBtcTest = is the constant for the bitcoin testnet network
	NetBtcTest = "tbtc"

	// NetBtcRegtest is the constant for the bitcoin regtest network
	NetBtcRegtest = "rbtc"
)

const (
	// regtestKeyName is the key name both services use
	// against a local development signer.
	regtestKeyName = "dfx_test_key"

	custodyKeyName   = "test_key_1"
	fiduciaryKeyName = "key_1"
)

// CheckNetwork validates that the network is valid
func CheckNetwork(network string) (string, error) {
	switch network {
	case NetBtc, NetBtcTest, NetBtcRegtest:
		return network, nil
	default:
		return "", errors.New("Network is invalid")
	}
}

// Network captures customizations which differ
// from network to network. It covers the obvious
// chainParams, the hash type used for signing, and
// the default signing key names of both services.
type Network struct {
	// Name is the short network code
	Name string

	// Params holds the networks chain params
	Params *chaincfg.Params

	// DefaultHashType is the sighash type every
	// input is signed with.
	DefaultHashType txscript.SigHashType

	// CustodyKeyName is the default key name of the
	// custody signing oracle.
	CustodyKeyName string

	// FiduciaryKeyName is the default key name of the
	// fiduciary signing oracle.
	FiduciaryKeyName string
}

var (
	// BtcNetwork defines the behaviour on the Bitcoin network
	BtcNetwork = &Network{
		Name:             NetBtc,
		Params:           &chaincfg.MainNetParams,
		DefaultHashType:  txscript.SigHashAll,
		CustodyKeyName:   custodyKeyName,
		FiduciaryKeyName: fiduciaryKeyName,
	}

	// BtcTestNetwork defines the behaviour on the Bitcoin testnet
	BtcTestNetwork = &Network{
		Name:             NetBtcTest,
		Params:           &chaincfg.TestNet3Params,
		DefaultHashType:  txscript.SigHashAll,
		CustodyKeyName:   custodyKeyName,
		FiduciaryKeyName: fiduciaryKeyName,
	}

	// BtcRegtestNetwork defines the behaviour on the Bitcoin regtest network
	BtcRegtestNetwork = &Network{
		Name:             NetBtcRegtest,
		Params:           &chaincfg.RegressionNetParams,
		DefaultHashType:  txscript.SigHashAll,
		CustodyKeyName:   regtestKeyName,
		FiduciaryKeyName: regtestKeyName,
	}
)

// GetNetworkParams takes a network string shortcode
// and returns the *Network params
func GetNetworkParams(network string) (*Network, error) {
	switch network {
	case NetBtc:
		return BtcNetwork, nil
	case NetBtcTest:
		return BtcTestNetwork, nil
	case NetBtcRegtest:
		return BtcRegtestNetwork, nil
	}

	return nil, errors.New("Invalid network")
}
