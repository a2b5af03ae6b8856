package main

import (
	"context"
	"fmt"
	"github.com/btccom/btccustody/chain"
	"github.com/btccom/btccustody/config"
	"github.com/btccom/btccustody/custody"
	"github.com/btccom/btccustody/keystore"
	"github.com/btccom/btccustody/logging"
	"github.com/btccom/btccustody/registry"
	"github.com/btccom/btccustody/rpcserver"
	"github.com/jessevdk/go-flags"
	"os"
	"os/signal"
	"syscall"
)

const appName = "custodyd"

func main() {
	if err := custodydMain(); err != nil {
		os.Exit(1)
	}
}

func custodydMain() error {
	cfg, err := config.LoadCustodyConfig(appName, os.Args[1:])
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}

	if err := logging.InitLogRotator(cfg.LogFile(appName)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer logging.Close()

	log := logging.Main()
	log.Infof("Starting %s on %s", appName, cfg.ActiveNet.Name)

	keys := keystore.New(cfg.AccountPath)
	if err := keys.AddKey(cfg.KeyName, cfg.MasterKey); err != nil {
		log.Errorf("Cannot load master key %s: %v", cfg.KeyName, err)
		return err
	}

	store, err := registry.OpenDBStore(cfg.NetDataDir(), cfg.ActiveNet.Params)
	if err != nil {
		log.Errorf("Cannot open registry: %v", err)
		return err
	}
	defer store.Close()

	esplora := chain.NewEsploraClient(cfg.Chain.EsploraURL, cfg.Chain.Timeout)
	broadcaster, stopBroadcaster, err := chain.NewBroadcaster(cfg.Chain.Broadcaster, esplora, &chain.RPCConfig{
		Host:       cfg.Chain.RPCHost,
		User:       cfg.Chain.RPCUser,
		Pass:       cfg.Chain.RPCPass,
		DisableTLS: cfg.Chain.RPCDisableTLS,
	})
	if err != nil {
		log.Errorf("Cannot create broadcaster: %v", err)
		return err
	}
	defer stopBroadcaster()

	partner := rpcserver.NewFiduciaryClient(cfg.FiduciaryURL, cfg.ActiveNet.Name, cfg.HMACKey, cfg.FiduciaryTimeout)
	if cfg.HMACKey == "" {
		log.Warnf("No hmackey configured, requests to the fiduciary are not authenticated")
	}

	service := custody.New(&custody.Config{
		Network:          cfg.ActiveNet,
		KeyName:          cfg.KeyName,
		CoinOrder:        cfg.ActiveCoinOrder,
		MaxFeeIterations: cfg.MaxFeeIterations,
	}, store, keys, partner, esplora, broadcaster)

	server, err := rpcserver.New(cfg.Listen, rpcserver.NewCustodyHandler(service))
	if err != nil {
		log.Errorf("Cannot start server: %v", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := server.Run(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
		return err
	}

	log.Infof("Shutdown complete")
	return nil
}
