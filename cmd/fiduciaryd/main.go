package main

import (
	"context"
	"fmt"
	"github.com/btccom/btccustody/chain"
	"github.com/btccom/btccustody/config"
	"github.com/btccom/btccustody/fiduciary"
	"github.com/btccom/btccustody/keystore"
	"github.com/btccom/btccustody/logging"
	"github.com/btccom/btccustody/rpcserver"
	"github.com/jessevdk/go-flags"
	"os"
	"os/signal"
	"syscall"
)

const appName = "fiduciaryd"

func main() {
	if err := fiduciarydMain(); err != nil {
		os.Exit(1)
	}
}

func fiduciarydMain() error {
	cfg, err := config.LoadFiduciaryConfig(appName, os.Args[1:])
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

	if cfg.HMACKey == "" {
		log.Warnf("No hmackey configured, sign-for-custody is open to any caller")
	}

	service := fiduciary.New(cfg.ActiveNet, cfg.KeyName, keys, broadcaster)
	handler := rpcserver.NewFiduciaryHandler(service, rpcserver.NewFiduciaryMetrics(), cfg.HMACKey)

	server, err := rpcserver.New(cfg.Listen, handler)
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
