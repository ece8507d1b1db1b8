package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hashlocklabs/slicefill/params"
	"github.com/hashlocklabs/slicefill/pkg/api"
	"github.com/hashlocklabs/slicefill/pkg/coordinator"
	"github.com/hashlocklabs/slicefill/pkg/crypto"
	"github.com/hashlocklabs/slicefill/pkg/feed"
	"github.com/hashlocklabs/slicefill/pkg/ledger"
	"github.com/hashlocklabs/slicefill/pkg/oracle"
	"github.com/hashlocklabs/slicefill/pkg/order"
	"github.com/hashlocklabs/slicefill/pkg/relayer"
	"github.com/hashlocklabs/slicefill/pkg/sink"
	"github.com/hashlocklabs/slicefill/pkg/storage"
	"github.com/hashlocklabs/slicefill/pkg/util"
	"github.com/hashlocklabs/slicefill/pkg/vault"
)

// feedSource adapts the concrete feed client to the coordinator's
// subscription interface.
type feedSource struct {
	client *feed.Client
}

func (f feedSource) Subscribe(ctx context.Context, orderID common.Hash, onFill func(order.FillEvent), onStall func(error)) (coordinator.Unsubscriber, error) {
	return f.client.Subscribe(ctx, orderID, onFill, onStall)
}

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if cfg.PrivateKey == "" {
		sugar.Fatal("PRIVATE_KEY is required")
	}
	signer, err := crypto.FromPrivateKeyHex(cfg.PrivateKey)
	if err != nil {
		sugar.Fatalw("bad_private_key", "err", err)
	}
	sugar.Infow("filler_identity", "address", signer.Address().Hex())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := ethclient.DialContext(ctx, cfg.Ledger.RPCURL)
	if err != nil {
		sugar.Fatalw("ledger_dial_failed", "url", cfg.Ledger.RPCURL, "err", err)
	}
	defer client.Close()

	vaultContract, err := ledger.NewVault(client, cfg.Ledger.VaultAddr, signer, cfg.Ledger.ChainID, cfg.Ledger.ConfirmTimeout, sugar)
	if err != nil {
		sugar.Fatalw("vault_init_failed", "err", err)
	}
	watcher := ledger.NewWatcher(client, cfg.Ledger.VaultAddr, sugar)
	oracleSource, err := ledger.NewOracle(client, cfg.Ledger.OracleAddr)
	if err != nil {
		sugar.Fatalw("oracle_init_failed", "err", err)
	}

	// In-flight order state is in memory; the journal exists so a restart
	// can report which orders were orphaned, not to resume them.
	var journal storage.Journal = storage.NopJournal{}
	if cfg.JournalPath != "" {
		pj, err := storage.OpenPebbleJournal(cfg.JournalPath, func(err error) {
			sugar.Warnw("journal_append_failed", "err", err)
		})
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.JournalPath, "err", err)
		}
		defer pj.Close()
		journal = pj

		for _, id := range pj.Orphans() {
			sugar.Warnw("orphaned_order", "order_id", id.Hex(),
				"action", "not resumed; cancel or refund manually")
		}
	}

	typed := order.NewTypedDataSigner(order.SettlementDomain(cfg.Ledger.ChainID, cfg.Order.Settlement))
	relayerClient := relayer.NewClient(cfg.Relayer.BaseURL, cfg.Relayer.Timeout, sugar)
	feedClient := feed.NewClient(feed.Options{
		URL:          cfg.Feed.URL,
		ReconnectMax: cfg.Feed.ReconnectMax,
		BackoffMin:   cfg.Feed.BackoffMin,
		BackoffMax:   cfg.Feed.BackoffMax,
	}, util.RealClock{}, sugar)
	notifier := sink.NewNotifier(cfg.SinkURL)

	coord := coordinator.New(ctx, coordinator.Config{
		Maker:      signer.Address(),
		Receiver:   cfg.Ledger.VaultAddr,
		MakerAsset: cfg.Order.MakerAsset,
		TakerAsset: cfg.Order.TakerAsset,
		Expiry:     cfg.Order.Expiry,
		Grace:      cfg.Order.GracePeriod,
	}, vaultContract, vault.New(), signer, typed, relayerClient, feedSource{feedClient}, notifier, journal, sugar)

	watchdog := &oracle.Watchdog{
		Source:   oracleSource,
		Target:   coord,
		Interval: cfg.Watchdog.Interval,
		Clock:    util.RealClock{},
		Log:      sugar,
	}
	go watchdog.Run(ctx)

	statusAPI := api.NewServer(coord, sugar)
	go func() {
		if err := statusAPI.Start(cfg.APIAddr); err != nil {
			sugar.Fatalw("status_api_failed", "err", err)
		}
	}()

	starts, err := watcher.SubscribeStarts(ctx)
	if err != nil {
		sugar.Fatalw("start_subscription_failed", "err", err)
	}

	sugar.Infow("fillerd_started",
		"vault", cfg.Ledger.VaultAddr.Hex(),
		"relayer", cfg.Relayer.BaseURL,
		"feed", cfg.Feed.URL,
		"watchdog_interval", cfg.Watchdog.Interval.String())

	for orderID := range starts {
		coord.HandleStart(orderID)
	}

	// The start channel closes on shutdown or a dead subscription. Either
	// way, stop tracking: leaving resting orders live with no fill
	// accounting behind them would be worse than cancelling.
	sugar.Info("start_stream_closed")
	coord.CancelAll("shutdown")
}
