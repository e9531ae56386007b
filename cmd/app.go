package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goatnetwork/peg-relayer/internal/bridge"
	"github.com/goatnetwork/peg-relayer/internal/btc"
	"github.com/goatnetwork/peg-relayer/internal/config"
	"github.com/goatnetwork/peg-relayer/internal/db"
	"github.com/goatnetwork/peg-relayer/internal/dispatcher"
	"github.com/goatnetwork/peg-relayer/internal/federation"
	"github.com/goatnetwork/peg-relayer/internal/http"
	"github.com/goatnetwork/peg-relayer/internal/poller"
	"github.com/goatnetwork/peg-relayer/internal/state"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	State           *state.State
	Journal         *db.Journal
	HTTPServer      http.HTTPServer
	Target          *bridge.Target
	EventSource     *dispatcher.EventSource
	Listener        *dispatcher.Listener
	Poller          *poller.Poller
}

func NewApplication() *Application {
	config.InitConfig()
	cfg := config.AppConfig

	btcClient, err := btc.NewClient(cfg.BTCRPC, cfg.BTCRPC_USER, cfg.BTCRPC_PASS)
	if err != nil {
		log.Fatalf("Failed to start bitcoin client: %v", err)
	}
	btcRPCService := btc.NewBTCRPCService(btcClient, cfg.BTCRPCTimeout, cfg.BTCImportTimeout)

	target, err := bridge.DialTarget(context.Background(), cfg.TargetRPC, cfg.TargetJwtSecret, cfg.TargetChainId)
	if err != nil {
		log.Fatalf("Failed to dial target chain: %v", err)
	}
	bridgeClient := bridge.NewClient(target.Eth, target.RPC, cfg.BridgeContract, target.ChainID,
		bridge.WithTimeout(cfg.TargetRPCTimeout),
		bridge.WithMineMode(cfg.TargetMineMode, time.Second),
	)
	log.Infof("Target chain %s, chain id %s, bridge %s, mine mode %s", cfg.TargetRPC, target.ChainID, cfg.BridgeContract.Hex(), cfg.TargetMineMode)

	fed, err := federation.FromHex(cfg.Bridge.FederationPublicKeys, cfg.Bridge.FederationQuorum, cfg.Bridge.FederationCreatedAt, cfg.BTCParams())
	if err != nil {
		log.Fatalf("Failed to load federation: %v", err)
	}
	log.Infof("Federation %s, %d of %d", fed.Address().EncodeAddress(), fed.MinimumRequired(), fed.Size())

	var whitelistAuth *federation.Authorizer
	if len(cfg.Bridge.LockWhitelistChangeKeys) > 0 {
		whitelistAuth, err = federation.AuthorizerFromHex(cfg.Bridge.LockWhitelistChangeKeys, cfg.Bridge.LockWhitelistChangeQuorum)
		if err != nil {
			log.Fatalf("Failed to load lock whitelist authorizer: %v", err)
		}
		log.Infof("Lock whitelist changes need %d of %d keys", whitelistAuth.RequiredSignatures(), len(whitelistAuth.PublicKeys()))
	}

	keyring := loadKeyring(cfg)

	dbm := db.NewDatabaseManager(cfg.DbPath)
	st := state.InitializeState()
	journal := db.NewJournal(dbm, st)
	if cp, err := journal.LoadCheckpoint(); err != nil {
		log.Warnf("Failed to load poll checkpoint: %v", err)
	} else if cp != nil {
		log.Infof("Previous run: %d cycles, last header relay %v, last collections update %v at target block %d",
			cp.Cycles, cp.LastHeaderRelay, cp.LastCollectionsUpdate, cp.LastTargetBlock)
	}

	queue := dispatcher.NewQueue(cfg.DispatchQueueSize)
	withdrawals := dispatcher.NewDispatcher(queue, btcRPCService, st)
	eventSource := dispatcher.NewEventSource(target.Eth, cfg.BridgeContract, cfg.TargetConfirmations, cfg.TargetPollInterval).
		WithReleaseFilter(bridgeClient)
	listener := dispatcher.NewListener(cfg.BridgeContract, queue, st)

	p := poller.New(btcRPCService, poller.FromClient(bridgeClient), fed, whitelistAuth, keyring, withdrawals, st, poller.Config{
		Interval:                   cfg.PollInterval,
		StartDelay:                 cfg.PollStartDelay,
		HeadersPerBatch:            cfg.HeadersPerBatch,
		ReceiveHeadersInterval:     cfg.ReceiveHeadersInterval,
		Confirmations:              cfg.Bridge.Btc2TargetMinimumAcceptableConfirmations,
		CoinMultiple:               cfg.WhitelistCoinMultiple,
		MinimumLockTxValue:         cfg.Bridge.MinimumLockTxValue,
		UpdateCollectionsInterval:  cfg.UpdateCollectionsInterval,
		UpdateCollectionsMaxBlocks: cfg.UpdateCollectionsMaxBlocks,
	})

	app := &Application{
		DatabaseManager: dbm,
		State:           st,
		Journal:         journal,
		Target:          target,
		EventSource:     eventSource,
		Listener:        listener,
		Poller:          p,
	}
	if cfg.EnableHTTP {
		app.HTTPServer = http.NewHTTPServer(cfg.HTTPPort, st, journal)
	}
	return app
}

// loadKeyring collects the federator keys from config and the keystore. A
// node without keys still starts; its cycles are skipped until keys appear.
func loadKeyring(cfg config.Config) *federation.Keyring {
	keyring := federation.NewKeyring()
	for i, hexKey := range cfg.FederatorPrivateKeys {
		addr, err := keyring.AddHex(hexKey)
		if err != nil {
			log.Errorf("Skip FEDERATOR_PRIVATE_KEYS entry %d: %v", i, err)
			continue
		}
		log.Infof("Loaded federator account %s", addr.Hex())
	}
	if cfg.KeystoreDir != "" {
		n, err := keyring.LoadKeystore(cfg.KeystoreDir, cfg.KeystorePassword)
		if err != nil {
			log.Errorf("Failed to load keystore %s: %v", cfg.KeystoreDir, err)
		} else {
			log.Infof("Loaded %d keystore accounts from %s", n, cfg.KeystoreDir)
		}
	}
	accounts := keyring.Accounts()
	if len(accounts) == 0 {
		log.Warn("No federator keys loaded, poll cycles will be skipped")
	}
	for _, addr := range accounts {
		log.Debugf("Federator account available: %s", addr.Hex())
	}
	return keyring
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Journal.Start(ctx)
	}()

	if app.HTTPServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.HTTPServer.Start(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Listener.Run(app.EventSource.Start(ctx))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Poller.Start(ctx)
	}()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	app.Target.Close()
	app.DatabaseManager.Close()
	log.Info("Server stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
