package wallet

import (
	"context"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"math/bits"
	"sort"
)

const (
	// DustThreshold is the smallest change output the
	// builder creates. Smaller change is left to the fee.
	DustThreshold btcutil.Amount = 1000

	// FallbackFeeRate is the fee rate in millisatoshi per
	// byte used when the chain has no fee sample.
	FallbackFeeRate uint64 = 2000

	// MaxFeeRate is the highest fee rate in millisatoshi per
	// byte accepted from the chain, 10000 sat/byte.
	MaxFeeRate uint64 = 10000 * 1000

	// DefaultMaxFeeIterations bounds the fee estimation loop.
	DefaultMaxFeeIterations = 32

	// feeRatePercentile selects the sample the fee
	// rate is taken from.
	feeRatePercentile = 50

	txVersion = 1
)

// CoinOrder arranges a wallet's UTXOs into the order in
// which coin selection visits them.
type CoinOrder interface {
	ArrangeCoins(utxos []Utxo) []Utxo
}

var (
	// CoinOrderReverse visits the UTXOs from the last one the
	// chain source returned to the first.
	CoinOrderReverse CoinOrder = reverseOrder{}

	// CoinOrderLargestFirst visits the largest UTXOs first.
	CoinOrderLargestFirst CoinOrder = largestFirstOrder{}

	// CoinOrderOldestFirst visits UTXOs by ascending
	// confirmation height.
	CoinOrderOldestFirst CoinOrder = oldestFirstOrder{}
)

// CoinOrderFromString returns the CoinOrder for a config value.
func CoinOrderFromString(name string) (CoinOrder, error) {
	switch name {
	case "", "reverse":
		return CoinOrderReverse, nil
	case "largest":
		return CoinOrderLargestFirst, nil
	case "oldest":
		return CoinOrderOldestFirst, nil
	}

	return nil, errors.Errorf("Unknown coin order %q", name)
}

type reverseOrder struct{}

func (reverseOrder) ArrangeCoins(utxos []Utxo) []Utxo {
	arranged := make([]Utxo, len(utxos))
	for i := range utxos {
		arranged[len(utxos)-1-i] = utxos[i]
	}
	return arranged
}

type largestFirstOrder struct{}

func (largestFirstOrder) ArrangeCoins(utxos []Utxo) []Utxo {
	arranged := append([]Utxo{}, utxos...)
	sort.SliceStable(arranged, func(i, j int) bool {
		return arranged[i].Value > arranged[j].Value
	})
	return arranged
}

type oldestFirstOrder struct{}

func (oldestFirstOrder) ArrangeCoins(utxos []Utxo) []Utxo {
	arranged := append([]Utxo{}, utxos...)
	sort.SliceStable(arranged, func(i, j int) bool {
		return arranged[i].Height < arranged[j].Height
	})
	return arranged
}

// Builder creates unsigned transactions spending from a
// user wallet.
type Builder struct {
	Network          *Network
	Chain            ChainSource
	CoinOrder        CoinOrder
	MaxFeeIterations int
}

// NewBuilder returns a Builder with the default coin order
// and iteration limit.
func NewBuilder(network *Network, chain ChainSource) *Builder {
	return &Builder{
		Network:          network,
		Chain:            chain,
		CoinOrder:        CoinOrderReverse,
		MaxFeeIterations: DefaultMaxFeeIterations,
	}
}

// BuildUnsigned creates a transaction paying amount to destination
// from the UTXOs of uw, with change back to the wallet address.
//
// The fee depends on the size of the signed transaction, which
// depends on the inputs the fee forces us to select. Starting
// from a zero fee, the transaction is rebuilt with the fee its
// previous version would need until the fee stops changing.
func (b *Builder) BuildUnsigned(ctx context.Context, uw *UserWallet, destination string,
	amount btcutil.Amount) (*TransactionBundle, error) {

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	destScript, err := b.destinationScript(destination)
	if err != nil {
		return nil, err
	}

	changeScript, err := txscript.PayToAddrScript(uw.Address)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create change script")
	}

	utxos, err := b.Chain.Utxos(ctx, uw.Address)
	if err != nil {
		return nil, errors.Wrapf(ErrOracleFailure, "utxos: %v", err)
	}

	percentiles, err := b.Chain.FeePercentiles(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrOracleFailure, "fee percentiles: %v", err)
	}

	rate, err := FeeRate(percentiles)
	if err != nil {
		return nil, err
	}
	coins := b.coinOrder().ArrangeCoins(utxos)

	var fee btcutil.Amount
	for i := 0; i < b.maxFeeIterations(); i++ {
		tx, values, err := buildWithFee(coins, destScript, changeScript, amount, fee)
		if err != nil {
			return nil, err
		}

		size := signPlaceholders(tx, uw.WitnessScript).SerializeSize()
		candidate := FeeForSize(size, rate)
		if candidate != fee {
			fee = candidate
			continue
		}

		sigHashes, err := CalcSigHashes(tx, uw.WitnessScript, values)
		if err != nil {
			return nil, err
		}

		log.Infof("Built %s for %s: %d inputs, %d outputs, fee %v at %d msat/byte",
			tx.TxHash(), uw.Identity, len(tx.TxIn), len(tx.TxOut), fee, rate)

		return NewTransactionBundle(tx, uw.WitnessScript, sigHashes), nil
	}

	return nil, errors.Wrapf(ErrFeeConvergence, "last estimate %v after %d iterations", fee, b.maxFeeIterations())
}

func (b *Builder) destinationScript(destination string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(destination, b.Network.Params)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidDestination, "%s: %v", destination, err)
	}
	if !addr.IsForNet(b.Network.Params) {
		return nil, errors.Wrapf(ErrInvalidDestination, "%s is not a %s address", destination, b.Network.Name)
	}

	return txscript.PayToAddrScript(addr)
}

func (b *Builder) coinOrder() CoinOrder {
	if b.CoinOrder == nil {
		return CoinOrderReverse
	}
	return b.CoinOrder
}

func (b *Builder) maxFeeIterations() int {
	if b.MaxFeeIterations <= 0 {
		return DefaultMaxFeeIterations
	}
	return b.MaxFeeIterations
}

// buildWithFee selects coins in the given order until they cover
// amount and fee, and returns the transaction along with the value
// of every input.
func buildWithFee(coins []Utxo, destScript, changeScript []byte, amount,
	fee btcutil.Amount) (*wire.MsgTx, []btcutil.Amount, error) {

	var total btcutil.Amount
	var selected []Utxo
	for _, coin := range coins {
		if total >= amount+fee {
			break
		}
		selected = append(selected, coin)
		total += coin.Value
	}

	if total < amount+fee {
		return nil, nil, &InsufficientBalanceError{
			Available: total,
			Amount:    amount,
			Fee:       fee,
		}
	}

	tx := wire.NewMsgTx(txVersion)
	values := make([]btcutil.Amount, len(selected))
	for i := range selected {
		tx.AddTxIn(wire.NewTxIn(&selected[i].OutPoint, nil, nil))
		values[i] = selected[i].Value
	}

	tx.AddTxOut(wire.NewTxOut(int64(amount), destScript))
	if change := total - amount - fee; change >= DustThreshold {
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	return tx, values, nil
}

// FeeRate returns the fee rate in millisatoshi per byte
// taken from a percentile sample. A rate above MaxFeeRate
// fails with ErrOracleFailure.
func FeeRate(percentiles []uint64) (uint64, error) {
	var rate uint64
	switch {
	case len(percentiles) == 0:
		return FallbackFeeRate, nil
	case len(percentiles) <= feeRatePercentile:
		rate = percentiles[len(percentiles)-1]
	default:
		rate = percentiles[feeRatePercentile]
	}

	if rate > MaxFeeRate {
		return 0, errors.Wrapf(ErrOracleFailure, "fee rate %d msat/byte above %d", rate, MaxFeeRate)
	}

	return rate, nil
}

// FeeForSize returns the fee of size bytes at rate
// millisatoshi per byte, rounded up to a whole satoshi.
// Fees beyond the money supply saturate at MaxSatoshi.
func FeeForSize(size int, rate uint64) btcutil.Amount {
	hi, lo := bits.Mul64(uint64(size), rate)
	lo, carry := bits.Add64(lo, 999, 0)
	if hi != 0 || carry != 0 {
		return btcutil.MaxSatoshi
	}

	if fee := lo / 1000; fee < btcutil.MaxSatoshi {
		return btcutil.Amount(fee)
	}
	return btcutil.MaxSatoshi
}
