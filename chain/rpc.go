package chain

import (
	"context"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// RPCConfig locates a btcd or bitcoind JSON-RPC server.
type RPCConfig struct {
	Host       string
	User       string
	Pass       string
	DisableTLS bool
}

// RPCBroadcaster implements wallet.Broadcaster by relaying
// transactions through a node's sendrawtransaction call.
type RPCBroadcaster struct {
	client *rpcclient.Client
}

// NewRPCBroadcaster connects to the node in HTTP POST mode.
func NewRPCBroadcaster(cfg *RPCConfig) (*RPCBroadcaster, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create rpc client for %s", cfg.Host)
	}

	return &RPCBroadcaster{client: client}, nil
}

// Broadcast implements wallet.Broadcaster. The rpc client does
// not take a context, so a cancelled ctx only stops the wait.
func (b *RPCBroadcaster) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	future := b.client.SendRawTransactionAsync(tx, false)

	result := make(chan error, 1)
	go func() {
		_, err := future.Receive()
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			return errors.Wrapf(err, "sendrawtransaction %s", tx.TxHash())
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Infof("Relayed %s through rpc", tx.TxHash())

	return nil
}

// Stop shuts the rpc client down.
func (b *RPCBroadcaster) Stop() {
	b.client.Shutdown()
	b.client.WaitForShutdown()
}

// NewBroadcaster returns the broadcaster named kind, "esplora" or
// "rpc", together with the function releasing it.
func NewBroadcaster(kind string, esplora *EsploraClient, rpcCfg *RPCConfig) (wallet.Broadcaster, func(), error) {
	switch kind {
	case "", "esplora":
		return esplora, func() {}, nil
	case "rpc":
		b, err := NewRPCBroadcaster(rpcCfg)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Stop, nil
	}

	return nil, nil, errors.Errorf("Unknown broadcaster %q", kind)
}
