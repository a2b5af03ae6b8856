// Package fiduciary is the second signer of every user wallet. It
// hands out its public keys, signs digests on behalf of custody and
// completes send requests custody has already signed.
package fiduciary

import (
	"context"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
)

// Service implements the fiduciary operations.
type Service struct {
	network     *wallet.Network
	keyName     string
	oracle      wallet.SigningOracle
	broadcaster wallet.Broadcaster
}

// New creates a fiduciary Service signing with the key keyName
// of oracle. An empty keyName selects the network's fiduciary
// key name.
func New(network *wallet.Network, keyName string, oracle wallet.SigningOracle,
	broadcaster wallet.Broadcaster) *Service {

	if keyName == "" {
		keyName = network.FiduciaryKeyName
	}

	return &Service{
		network:     network,
		keyName:     keyName,
		oracle:      oracle,
		broadcaster: broadcaster,
	}
}

// Network returns the network the service runs on.
func (s *Service) Network() *wallet.Network {
	return s.network
}

// KeyName returns the fiduciary key name in use.
func (s *Service) KeyName() string {
	return s.keyName
}

// PublicKey returns the compressed fiduciary public key at path.
func (s *Service) PublicKey(ctx context.Context, network string, path wallet.DerivationPath) ([]byte, error) {
	if err := s.checkNetwork(network); err != nil {
		return nil, err
	}

	pubKey, err := s.oracle.PublicKey(ctx, s.keyName, path)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrSigningFailure, "public key: %v", err)
	}

	return pubKey, nil
}

// SignForCustody returns the raw signature of digest by the
// key at path, for custody to place in the last witness slot.
func (s *Service) SignForCustody(ctx context.Context, network string, path wallet.DerivationPath,
	digest []byte) ([]byte, error) {

	if err := s.checkNetwork(network); err != nil {
		return nil, err
	}
	if len(digest) != chainhash.HashSize {
		return nil, errors.Wrapf(wallet.ErrDecodeFailure, "digest must be %d bytes, got %d", chainhash.HashSize, len(digest))
	}

	sig, err := s.oracle.Sign(ctx, s.keyName, path, digest)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrSigningFailure, "sign: %v", err)
	}
	if len(sig) != wallet.RawSignatureLen {
		return nil, errors.Wrapf(wallet.ErrSigningFailure, "oracle returned %d byte signature", len(sig))
	}

	return sig, nil
}

// FinalizeSendRequest adds the fiduciary signature of id to a
// bundle signed by custody, broadcasts the finished transaction
// and returns its id.
func (s *Service) FinalizeSendRequest(ctx context.Context, id wallet.Identity, network string,
	raw *wallet.RawTransactionBundle) (string, error) {

	if err := s.checkNetwork(network); err != nil {
		return "", err
	}
	if id.IsAnonymous() {
		return "", wallet.ErrInvalidIdentity
	}

	bundle, err := wallet.BundleFromRaw(raw)
	if err != nil {
		return "", err
	}

	bundle, err = wallet.SignBundle(ctx, bundle, s.oracle, s.keyName, wallet.NewDerivationPath(id), wallet.PositionLast)
	if err != nil {
		return "", err
	}

	tx := bundle.Tx()
	if err := s.broadcaster.Broadcast(ctx, tx); err != nil {
		return "", errors.Wrapf(wallet.ErrOracleFailure, "broadcast: %v", err)
	}

	txid := tx.TxHash().String()
	log.Infof("Finalized %s for %s", txid, id)

	return txid, nil
}

func (s *Service) checkNetwork(network string) error {
	if network != s.network.Name {
		return errors.Wrapf(wallet.ErrNetworkMismatch, "got %q, serving %q", network, s.network.Name)
	}
	return nil
}
