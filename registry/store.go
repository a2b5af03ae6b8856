package registry

import (
	"bytes"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/pkg/errors"
	"os"
	"path/filepath"
	"time"

	// Register the bolt backed walletdb driver.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

const (
	// DBFilename is the name of the registry database
	// inside the data directory.
	DBFilename = "registry.db"

	dbDriver  = "bdb"
	dbTimeout = 10 * time.Second

	// maxScriptLen bounds the witness script read back from
	// a record. A 2-of-2 script is 71 bytes.
	maxScriptLen = 128

	// maxPathElementLen bounds a derivation path element.
	maxPathElementLen = 1024

	recordVersion = 0
)

var (
	// walletsBucket maps identity bytes to serialized wallets.
	walletsBucket = []byte("wallets")

	// addressesBucket maps the witness program of every stored
	// wallet to the identity owning it.
	addressesBucket = []byte("addresses")

	// ErrCorruptRecord is returned when a stored wallet does
	// not decode, or its address does not commit to its script.
	ErrCorruptRecord = errors.New("corrupt wallet record")

	// ErrAddressInUse is returned when a wallet would share its
	// script with the wallet of another identity.
	ErrAddressInUse = errors.New("wallet address belongs to another identity")
)

// Store persists user wallets. Wallets are never updated
// or deleted once stored.
type Store interface {
	// Get returns the wallet of id, or wallet.ErrWalletNotFound.
	Get(id wallet.Identity) (*wallet.UserWallet, error)

	// PutIfAbsent stores uw unless a wallet of the same
	// identity exists, and returns the stored wallet. It fails
	// with ErrAddressInUse if another identity owns the script.
	PutIfAbsent(uw *wallet.UserWallet) (*wallet.UserWallet, error)
}

// DBStore is a Store on top of a walletdb database.
type DBStore struct {
	db     walletdb.DB
	params *chaincfg.Params
}

// OpenDBStore opens the registry database in dir, creating
// it on first use.
func OpenDBStore(dir string, params *chaincfg.Params) (*DBStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, DBFilename)
	db, err := walletdb.Open(dbDriver, dbPath, true, dbTimeout, false)
	if errors.Is(err, walletdb.ErrDbDoesNotExist) {
		log.Infof("Creating registry database %s", dbPath)
		db, err = walletdb.Create(dbDriver, dbPath, true, dbTimeout, false)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s", dbPath)
	}

	return NewDBStore(db, params)
}

// NewDBStore prepares db for storing wallets of the network.
// Wallets stored before the address index existed are indexed.
func NewDBStore(db walletdb.DB, params *chaincfg.Params) (*DBStore, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		wallets, err := tx.CreateTopLevelBucket(walletsBucket)
		if err != nil {
			return err
		}
		addresses, err := tx.CreateTopLevelBucket(addressesBucket)
		if err != nil {
			return err
		}

		return wallets.ForEach(func(k, v []byte) error {
			uw, err := deserializeWallet(wallet.Identity(k), v, params)
			if err != nil {
				return err
			}

			program := wallet.GetP2WSHWitnessProgram(uw.WitnessScript)
			if owner := addresses.Get(program); owner != nil {
				if !bytes.Equal(owner, k) {
					return errors.Wrapf(ErrAddressInUse, "%s and %s", owner, k)
				}
				return nil
			}

			return addresses.Put(program, k)
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot prepare registry buckets")
	}

	return &DBStore{
		db:     db,
		params: params,
	}, nil
}

// Close closes the underlying database.
func (s *DBStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *DBStore) Get(id wallet.Identity) (*wallet.UserWallet, error) {
	var uw *wallet.UserWallet
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		record := tx.ReadBucket(walletsBucket).Get(id.Bytes())
		if record == nil {
			return wallet.ErrWalletNotFound
		}

		var err error
		uw, err = deserializeWallet(id, record, s.params)
		return err
	})
	if err != nil {
		return nil, err
	}

	return uw, nil
}

// PutIfAbsent implements Store. The lookups and the inserts
// run in one read-write transaction.
func (s *DBStore) PutIfAbsent(uw *wallet.UserWallet) (*wallet.UserWallet, error) {
	record, err := serializeWallet(uw)
	if err != nil {
		return nil, err
	}

	id := uw.Identity.Bytes()
	program := wallet.GetP2WSHWitnessProgram(uw.WitnessScript)

	stored := uw
	err = walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		wallets := tx.ReadWriteBucket(walletsBucket)
		if existing := wallets.Get(id); existing != nil {
			var err error
			stored, err = deserializeWallet(uw.Identity, existing, s.params)
			return err
		}

		addresses := tx.ReadWriteBucket(addressesBucket)
		if owner := addresses.Get(program); owner != nil {
			return errors.Wrapf(ErrAddressInUse, "%s is owned by %q", uw.Address, owner)
		}

		if err := wallets.Put(id, record); err != nil {
			return err
		}
		return addresses.Put(program, id)
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// serializeWallet encodes the version, witness script, address
// and derivation path with the bitcoin wire var-length helpers.
func serializeWallet(uw *wallet.UserWallet) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, recordVersion); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, uw.WitnessScript); err != nil {
		return nil, err
	}
	if err := wire.WriteVarString(&buf, 0, uw.Address.EncodeAddress()); err != nil {
		return nil, err
	}
	if err := wire.WriteVarInt(&buf, 0, uint64(len(uw.DerivationPath))); err != nil {
		return nil, err
	}
	for _, element := range uw.DerivationPath {
		if err := wire.WriteVarBytes(&buf, 0, element); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func deserializeWallet(id wallet.Identity, record []byte, params *chaincfg.Params) (*wallet.UserWallet, error) {
	r := bytes.NewReader(record)

	version, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptRecord, "%s: %v", id, err)
	}
	if version != recordVersion {
		return nil, errors.Wrapf(ErrCorruptRecord, "%s: unknown version %d", id, version)
	}

	ws, err := wire.ReadVarBytes(r, 0, maxScriptLen, "witness script")
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptRecord, "%s: %v", id, err)
	}

	encoded, err := wire.ReadVarString(r, 0)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptRecord, "%s: %v", id, err)
	}

	numElements, err := wire.ReadVarInt(r, 0)
	if err != nil || numElements > 255 {
		return nil, errors.Wrapf(ErrCorruptRecord, "%s: bad derivation path", id)
	}

	path := make(wallet.DerivationPath, numElements)
	for i := range path {
		path[i], err = wire.ReadVarBytes(r, 0, maxPathElementLen, "path element")
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptRecord, "%s: %v", id, err)
		}
	}

	addr, err := btcutil.DecodeAddress(encoded, params)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptRecord, "%s: %v", id, err)
	}

	expected, err := wallet.WitnessScriptAddress(ws, params)
	if err != nil {
		return nil, err
	}
	if expected.EncodeAddress() != addr.EncodeAddress() {
		return nil, errors.Wrapf(ErrCorruptRecord, "%s: address %s does not match script", id, encoded)
	}

	return &wallet.UserWallet{
		Identity:       id,
		WitnessScript:  ws,
		Address:        expected,
		DerivationPath: path,
	}, nil
}
