// Package custody is the first signer of every user wallet. It owns
// the identity to wallet registry, builds spending transactions and
// adds the first signature before handing the transaction over to
// the fiduciary.
package custody

import (
	"context"
	"github.com/btccom/btccustody/registry"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
)

// Partner is the custody side view of the fiduciary service.
type Partner interface {
	// PublicKey returns the fiduciary public key at path.
	PublicKey(ctx context.Context, path wallet.DerivationPath) ([]byte, error)

	// SignForCustody returns the fiduciary's raw signature
	// of digest by the key at path.
	SignForCustody(ctx context.Context, path wallet.DerivationPath, digest []byte) ([]byte, error)
}

// Config holds the settings of a Service.
type Config struct {
	Network *wallet.Network

	// KeyName selects the custody master key in the
	// signing oracle. Defaults to the network's custody
	// key name.
	KeyName string

	CoinOrder        wallet.CoinOrder
	MaxFeeIterations int
}

// Service implements the custody operations.
type Service struct {
	network     *wallet.Network
	keyName     string
	oracle      wallet.SigningOracle
	partner     Partner
	chain       wallet.ChainSource
	broadcaster wallet.Broadcaster
	registry    *registry.Registry
	builder     *wallet.Builder
}

// New creates a custody Service. Wallets are persisted in store,
// the first key of every wallet comes from oracle and the second
// from partner.
func New(cfg *Config, store registry.Store, oracle wallet.SigningOracle, partner Partner,
	chain wallet.ChainSource, broadcaster wallet.Broadcaster) *Service {

	keyName := cfg.KeyName
	if keyName == "" {
		keyName = cfg.Network.CustodyKeyName
	}

	builder := wallet.NewBuilder(cfg.Network, chain)
	if cfg.CoinOrder != nil {
		builder.CoinOrder = cfg.CoinOrder
	}
	if cfg.MaxFeeIterations > 0 {
		builder.MaxFeeIterations = cfg.MaxFeeIterations
	}

	custodyKeys := &registry.OracleKeySource{Oracle: oracle, KeyName: keyName}

	return &Service{
		network:     cfg.Network,
		keyName:     keyName,
		oracle:      oracle,
		partner:     partner,
		chain:       chain,
		broadcaster: broadcaster,
		registry:    registry.New(cfg.Network, store, custodyKeys, partner),
		builder:     builder,
	}
}

// Network returns the network the service runs on.
func (s *Service) Network() *wallet.Network {
	return s.network
}

// KeyName returns the custody key name in use.
func (s *Service) KeyName() string {
	return s.keyName
}

// GetOrCreateWallet returns the wallet address of id, creating
// the wallet on first use.
func (s *Service) GetOrCreateWallet(ctx context.Context, id wallet.Identity) (btcutil.Address, error) {
	uw, err := s.registry.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}

	return uw.Address, nil
}

// InitSendRequest builds a transaction paying amount from the
// wallet of id to destination, adds the custody signature and
// returns the bundle the fiduciary needs to finish it.
func (s *Service) InitSendRequest(ctx context.Context, id wallet.Identity, destination string,
	amount btcutil.Amount) (*wallet.RawTransactionBundle, error) {

	bundle, err := s.signFirst(ctx, id, destination, amount)
	if err != nil {
		return nil, err
	}

	log.Infof("Send request %s for %s ready for the fiduciary", bundle.TxHash(), id)

	return bundle.ToRaw(), nil
}

// Send builds, fully signs and broadcasts a transaction paying
// amount from the wallet of id to destination. The fiduciary
// signatures are requested per input through SignForCustody.
// It returns the transaction id.
func (s *Service) Send(ctx context.Context, id wallet.Identity, destination string,
	amount btcutil.Amount) (string, error) {

	bundle, err := s.signFirst(ctx, id, destination, amount)
	if err != nil {
		return "", err
	}

	path := wallet.NewDerivationPath(id)
	bundle, err = wallet.SignBundle(ctx, bundle, &partnerOracle{partner: s.partner}, "", path, wallet.PositionLast)
	if err != nil {
		return "", err
	}

	tx := bundle.Tx()
	if err := s.broadcaster.Broadcast(ctx, tx); err != nil {
		return "", errors.Wrapf(wallet.ErrOracleFailure, "broadcast: %v", err)
	}

	txid := tx.TxHash().String()
	log.Infof("Sent %s for %s", txid, id)

	return txid, nil
}

func (s *Service) signFirst(ctx context.Context, id wallet.Identity, destination string,
	amount btcutil.Amount) (*wallet.TransactionBundle, error) {

	uw, err := s.registry.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}

	bundle, err := s.builder.BuildUnsigned(ctx, uw, destination, amount)
	if err != nil {
		return nil, err
	}

	return wallet.SignBundle(ctx, bundle, s.oracle, s.keyName, uw.DerivationPath, wallet.PositionFirst)
}

// Balance returns the confirmed balance of address.
func (s *Service) Balance(ctx context.Context, address string) (btcutil.Amount, error) {
	addr, err := s.decodeAddress(address)
	if err != nil {
		return 0, err
	}

	balance, err := s.chain.Balance(ctx, addr)
	if err != nil {
		return 0, errors.Wrapf(wallet.ErrOracleFailure, "balance: %v", err)
	}

	return balance, nil
}

// Utxos returns the confirmed unspent outputs of address.
func (s *Service) Utxos(ctx context.Context, address string) ([]wallet.Utxo, error) {
	addr, err := s.decodeAddress(address)
	if err != nil {
		return nil, err
	}

	utxos, err := s.chain.Utxos(ctx, addr)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrOracleFailure, "utxos: %v", err)
	}

	return utxos, nil
}

// FeePercentiles returns the current fee percentiles in
// millisatoshi per byte.
func (s *Service) FeePercentiles(ctx context.Context) ([]uint64, error) {
	percentiles, err := s.chain.FeePercentiles(ctx)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrOracleFailure, "fee percentiles: %v", err)
	}

	return percentiles, nil
}

func (s *Service) decodeAddress(address string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, s.network.Params)
	if err != nil {
		return nil, errors.Wrapf(wallet.ErrInvalidDestination, "%s: %v", address, err)
	}
	if !addr.IsForNet(s.network.Params) {
		return nil, errors.Wrapf(wallet.ErrInvalidDestination, "%s is not a %s address", address, s.network.Name)
	}

	return addr, nil
}

// partnerOracle signs through the fiduciary. The fiduciary
// picks its own key, so the key name is ignored.
type partnerOracle struct {
	partner Partner
}

func (o *partnerOracle) PublicKey(ctx context.Context, _ string, path wallet.DerivationPath) ([]byte, error) {
	return o.partner.PublicKey(ctx, path)
}

func (o *partnerOracle) Sign(ctx context.Context, _ string, path wallet.DerivationPath, digest []byte) ([]byte, error) {
	return o.partner.SignForCustody(ctx, path, digest)
}
