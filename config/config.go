// Package config loads the settings of the custody and fiduciary
// daemons. Defaults are overridden by the config file, which is
// overridden by the command line.
package config

import (
	"fmt"
	"github.com/btccom/btccustody/bip32util"
	"github.com/btccom/btccustody/chain"
	"github.com/btccom/btccustody/logging"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultConfigFilename  = "%s.conf"
	defaultLogDirname      = "logs"
	defaultLogLevel        = "info"
	defaultAccountPath     = "m"
	defaultBroadcaster     = "esplora"
	defaultCustodyListen   = "127.0.0.1:8340"
	defaultFiduciaryListen = "127.0.0.1:8341"
	defaultPartnerTimeout  = 30 * time.Second
)

// Flags are the options both daemons share.
type Flags struct {
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	Network     string `long:"network" description:"Network to serve {btc, tbtc, rbtc}"`
	Listen      string `long:"listen" description:"Interface/port to serve the API on"`
	KeyName     string `long:"keyname" description:"Name of the signing key (default: chosen by network)"`
	MasterKey   string `long:"masterkey" description:"Serialized BIP32 private master key of the signing key"`
	AccountPath string `long:"accountpath" description:"BIP32 path below which user keys are derived"`
	HMACKey     string `long:"hmackey" description:"Secret authenticating calls from custody to the fiduciary"`
}

// ChainFlags locate the chain oracle and the broadcaster.
type ChainFlags struct {
	EsploraURL    string        `long:"esplora" description:"Base URL of an Esplora API"`
	Timeout       time.Duration `long:"chaintimeout" description:"Timeout of chain API requests"`
	Broadcaster   string        `long:"broadcaster" description:"How transactions are broadcast" choice:"esplora" choice:"rpc"`
	RPCHost       string        `long:"rpcconnect" description:"Hostname/IP and port of the node's JSON-RPC server"`
	RPCUser       string        `long:"rpcuser" description:"Username for JSON-RPC connections"`
	RPCPass       string        `long:"rpcpass" default-mask:"-" description:"Password for JSON-RPC connections"`
	RPCDisableTLS bool          `long:"rpcnotls" description:"Disable TLS for the JSON-RPC connection"`
}

// CustodyFlags are the options of the custody daemon.
type CustodyFlags struct {
	Flags
	Chain ChainFlags `group:"Chain Options"`

	FiduciaryURL     string        `long:"fiduciary" description:"Base URL of the fiduciary API"`
	FiduciaryTimeout time.Duration `long:"fiduciarytimeout" description:"Timeout of requests to the fiduciary"`
	CoinOrder        string        `long:"coinorder" description:"Order in which UTXOs are spent" choice:"reverse" choice:"largest" choice:"oldest"`
	MaxFeeIterations int           `long:"maxfeeiterations" description:"Bound of the fee estimation loop"`
}

// FiduciaryFlags are the options of the fiduciary daemon.
type FiduciaryFlags struct {
	Flags
	Chain ChainFlags `group:"Chain Options"`
}

// Resolved holds the values derived from Flags.
type Resolved struct {
	ActiveNet   *wallet.Network
	AccountPath *bip32util.Path
}

// CustodyConfig is the loaded custody configuration.
type CustodyConfig struct {
	*CustodyFlags
	Resolved
	ActiveCoinOrder wallet.CoinOrder
}

// FiduciaryConfig is the loaded fiduciary configuration.
type FiduciaryConfig struct {
	*FiduciaryFlags
	Resolved
}

// LogFile returns the log file path of appName.
func (f *Flags) LogFile(appName string) string {
	return filepath.Join(f.LogDir, appName+".log")
}

// NetDataDir returns the data directory of the active network.
func (f *Flags) NetDataDir() string {
	return filepath.Join(f.DataDir, f.Network)
}

func defaultFlags(appName, listen string) Flags {
	homeDir := btcutil.AppDataDir(appName, false)
	return Flags{
		ConfigFile:  filepath.Join(homeDir, fmt.Sprintf(defaultConfigFilename, appName)),
		DataDir:     homeDir,
		LogDir:      filepath.Join(homeDir, defaultLogDirname),
		DebugLevel:  defaultLogLevel,
		Network:     wallet.NetBtcTest,
		Listen:      listen,
		AccountPath: defaultAccountPath,
	}
}

func defaultChainFlags() ChainFlags {
	return ChainFlags{
		Timeout:     chain.DefaultTimeout,
		Broadcaster: defaultBroadcaster,
	}
}

// LoadCustodyConfig loads the custody configuration from
// the config file and args.
func LoadCustodyConfig(appName string, args []string) (*CustodyConfig, error) {
	cfgFlags := &CustodyFlags{
		Flags:            defaultFlags(appName, defaultCustodyListen),
		Chain:            defaultChainFlags(),
		FiduciaryTimeout: defaultPartnerTimeout,
		MaxFeeIterations: wallet.DefaultMaxFeeIterations,
	}

	if err := parse(cfgFlags, &cfgFlags.ConfigFile, args); err != nil {
		return nil, err
	}

	resolved, err := resolve(&cfgFlags.Flags, &cfgFlags.Chain)
	if err != nil {
		return nil, err
	}

	if cfgFlags.KeyName == "" {
		cfgFlags.KeyName = resolved.ActiveNet.CustodyKeyName
	}

	if cfgFlags.FiduciaryURL == "" {
		return nil, errors.New("loadConfig: the fiduciary URL is required")
	}
	if cfgFlags.MaxFeeIterations <= 0 {
		return nil, errors.Errorf("loadConfig: maxfeeiterations must be positive, got %d", cfgFlags.MaxFeeIterations)
	}

	coinOrder, err := wallet.CoinOrderFromString(cfgFlags.CoinOrder)
	if err != nil {
		return nil, err
	}

	return &CustodyConfig{
		CustodyFlags:    cfgFlags,
		Resolved:        *resolved,
		ActiveCoinOrder: coinOrder,
	}, nil
}

// LoadFiduciaryConfig loads the fiduciary configuration from
// the config file and args.
func LoadFiduciaryConfig(appName string, args []string) (*FiduciaryConfig, error) {
	cfgFlags := &FiduciaryFlags{
		Flags: defaultFlags(appName, defaultFiduciaryListen),
		Chain: defaultChainFlags(),
	}

	if err := parse(cfgFlags, &cfgFlags.ConfigFile, args); err != nil {
		return nil, err
	}

	resolved, err := resolve(&cfgFlags.Flags, &cfgFlags.Chain)
	if err != nil {
		return nil, err
	}

	if cfgFlags.KeyName == "" {
		cfgFlags.KeyName = resolved.ActiveNet.FiduciaryKeyName
	}

	return &FiduciaryConfig{
		FiduciaryFlags: cfgFlags,
		Resolved:       *resolved,
	}, nil
}

// parse applies the config file and then args to cfgFlags.
// configFile points at the config file option inside cfgFlags.
func parse(cfgFlags interface{}, configFile *string, args []string) error {
	// Pre-parse the command line options to see if an alternative config
	// file was specified. Any errors aside from the help message error can
	// be ignored here since they will be caught by the final parse below.
	preParser := flags.NewParser(cfgFlags, flags.HelpFlag|flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
	}

	parser := flags.NewParser(cfgFlags, flags.HelpFlag|flags.PassDoubleDash)
	err := flags.NewIniParser(parser).ParseFile(*configFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return errors.Wrapf(err, "Error parsing config file %s", *configFile)
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return err
	}
	if len(remainingArgs) > 0 {
		return errors.Errorf("loadConfig: unexpected arguments %v", remainingArgs)
	}

	return nil
}

func resolve(cfgFlags *Flags, chainFlags *ChainFlags) (*Resolved, error) {
	funcName := "loadConfig"

	net, err := wallet.GetNetworkParams(cfgFlags.Network)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: %s", funcName, cfgFlags.Network)
	}

	if err := logging.ParseAndSetDebugLevels(cfgFlags.DebugLevel); err != nil {
		return nil, errors.Wrap(err, funcName)
	}

	if cfgFlags.MasterKey == "" {
		return nil, errors.Errorf("%s: masterkey cannot be empty", funcName)
	}

	accountPath, err := bip32util.NewPathFromString(cfgFlags.AccountPath)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: accountpath", funcName)
	}
	if !accountPath.IsPrivate() {
		return nil, errors.Errorf("%s: accountpath must be a private path (m/...)", funcName)
	}

	if chainFlags.EsploraURL == "" {
		return nil, errors.Errorf("%s: esplora URL cannot be empty", funcName)
	}
	if chainFlags.Broadcaster == "rpc" && chainFlags.RPCHost == "" {
		return nil, errors.Errorf("%s: rpcconnect is required with the rpc broadcaster", funcName)
	}

	cfgFlags.DataDir = cleanAndExpandPath(cfgFlags.DataDir)
	cfgFlags.LogDir = cleanAndExpandPath(cfgFlags.LogDir)

	return &Resolved{
		ActiveNet:   net,
		AccountPath: accountPath,
	}, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if len(path) > 0 && path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
