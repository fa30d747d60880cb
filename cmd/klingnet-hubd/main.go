// Klingnet hub daemon: a multi-session orchestration layer in front of
// klingnet nodes.
//
// Usage:
//
//	klingnet-hubd [--network=... --node=... --rpc-port=...]
//	klingnet-hubd --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-hub/config"
	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	"github.com/Klingon-tech/klingnet-hub/internal/engine/rpcengine"
	"github.com/Klingon-tech/klingnet-hub/internal/hub"
	"github.com/Klingon-tech/klingnet-hub/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-hub/internal/log"
	"github.com/Klingon-tech/klingnet-hub/internal/session"
	"github.com/Klingon-tech/klingnet-hub/internal/wallet"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
)

const version = "0.3.1"

func main() {
	cfg, flags, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flags.Version {
		fmt.Printf("klingnet-hubd %s\n", version)
		return
	}

	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logging: %v\n", err)
		os.Exit(1)
	}
	types.SetAddressHRP(cfg.Network.HRP())

	registry := session.NewRegistry()

	dial := func(network config.Network, endpoint string) (engine.Engine, error) {
		eng, err := rpcengine.Dial(network, endpoint)
		if err != nil {
			return nil, err
		}
		return eng, nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
	server := hub.New(addr, cfg, registry, dial)
	if err := server.Start(); err != nil {
		klog.Fatal().Err(err).Msg("start hub server")
	}

	if err := preloadWallet(cfg, registry, dial); err != nil {
		klog.Warn().Err(err).Msg("preconfigured wallet not loaded")
	}

	klog.Info().
		Str("version", version).
		Str("network", string(cfg.Network)).
		Str("addr", server.Addr()).
		Msg("klingnet-hubd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	klog.Info().Msg("shutting down")
	registry.Shutdown(context.Background())
	if err := server.Stop(); err != nil {
		klog.Error().Err(err).Msg("hub server shutdown")
	}
}

// preloadWallet attaches preconfigured credentials to the default session
// so single-user deployments work without a wallet_import call. The
// default session is also connected to the default network's node.
func preloadWallet(cfg *config.Config, registry *session.Registry, dial hub.DialFunc) error {
	wc := cfg.Wallet
	if wc.Mnemonic == "" && wc.PrivateKey == "" && wc.File == "" {
		return nil
	}

	var (
		w   *wallet.Handle
		err error
	)
	switch {
	case wc.File != "":
		password := os.Getenv("KLINGNET_HUB_WALLET_PASSWORD")
		if password == "" {
			return fmt.Errorf("wallet.file is set but KLINGNET_HUB_WALLET_PASSWORD is empty")
		}
		creds, err := wallet.LoadEncrypted(wc.File, []byte(password))
		if err != nil {
			return fmt.Errorf("load wallet file: %w", err)
		}
		if creds.SingleKey() {
			w, err = wallet.NewFromPrivateKey(cfg.Network, fmt.Sprintf("%x", creds.PrivateKey))
		} else {
			w, err = wallet.NewFromMnemonic(cfg.Network, creds.Mnemonic, creds.Passphrase)
		}
		creds.Zero()
		if err != nil {
			return err
		}
	case wc.Mnemonic != "":
		w, err = wallet.NewFromMnemonic(cfg.Network, wc.Mnemonic, wc.Passphrase)
		if err != nil {
			return err
		}
	default:
		w, err = wallet.NewFromPrivateKey(cfg.Network, wc.PrivateKey)
		if err != nil {
			return err
		}
	}

	endpoint := cfg.Nodes.Endpoint(cfg.Network)
	eng, err := dial(cfg.Network, endpoint)
	if err != nil {
		w.Close()
		return fmt.Errorf("connect default session: %w", err)
	}

	sess := registry.GetOrCreate(session.DefaultID)
	sess.Mu.Lock()
	sess.Conn = ledger.New(cfg.Network, endpoint, eng)
	sess.Wallet = w
	sess.Mu.Unlock()

	klog.Info().Str("network", string(cfg.Network)).Msg("default session preloaded with configured wallet")
	return nil
}
