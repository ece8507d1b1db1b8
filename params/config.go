package params

import (
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Ledger struct {
	RPCURL     string
	VaultAddr  common.Address
	OracleAddr common.Address
	ChainID    *big.Int
	// ConfirmTimeout bounds the wait for a submitted transaction to be mined.
	ConfirmTimeout time.Duration
}

type Relayer struct {
	BaseURL string
	Timeout time.Duration
}

type Feed struct {
	URL string
	// ReconnectMax is the reconnect attempt budget after a feed disconnect.
	// Once exhausted the affected order is treated as stalled, never
	// completed; the watchdog and manual intervention are the backstop.
	ReconnectMax int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

type Order struct {
	// Settlement is the order protocol contract the descriptor is signed for.
	Settlement common.Address
	MakerAsset common.Address
	TakerAsset common.Address
	Expiry     time.Duration
	// GracePeriod pads the refund time past the end of the fill schedule.
	GracePeriod time.Duration
}

type Watchdog struct {
	Interval time.Duration
}

type Config struct {
	Ledger      Ledger
	Relayer     Relayer
	Feed        Feed
	Order       Order
	Watchdog    Watchdog
	SinkURL     string
	APIAddr     string
	JournalPath string
	PrivateKey  string
	LogFile     string
}

func Default() Config {
	return Config{
		Ledger: Ledger{
			RPCURL:         "ws://localhost:8545",
			ChainID:        big.NewInt(1337),
			ConfirmTimeout: 2 * time.Minute,
		},
		Relayer: Relayer{
			BaseURL: "http://localhost:8081",
			Timeout: 10 * time.Second,
		},
		Feed: Feed{
			URL:          "ws://localhost:8082/ws",
			ReconnectMax: 5,
			BackoffMin:   time.Second,
			BackoffMax:   30 * time.Second,
		},
		Order: Order{
			Expiry:      24 * time.Hour,
			GracePeriod: 5 * time.Minute,
		},
		Watchdog:    Watchdog{Interval: 60 * time.Second},
		SinkURL:     "http://localhost:8083",
		APIAddr:     ":8080",
		JournalPath: "data/journal",
		LogFile:     "data/fillerd.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("LEDGER_RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("VAULT_ADDRESS"); v != "" {
		cfg.Ledger.VaultAddr = common.HexToAddress(v)
	}
	if v := os.Getenv("ORACLE_ADDRESS"); v != "" {
		cfg.Ledger.OracleAddr = common.HexToAddress(v)
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, ok := new(big.Int).SetString(v, 10); ok {
			cfg.Ledger.ChainID = id
		}
	}
	if d := durationEnv("CONFIRM_TIMEOUT_MS"); d > 0 {
		cfg.Ledger.ConfirmTimeout = d
	}

	if v := os.Getenv("RELAYER_URL"); v != "" {
		cfg.Relayer.BaseURL = v
	}
	if d := durationEnv("RELAYER_TIMEOUT_MS"); d > 0 {
		cfg.Relayer.Timeout = d
	}

	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("FEED_RECONNECT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Feed.ReconnectMax = n
		}
	}
	if d := durationEnv("FEED_BACKOFF_MIN_MS"); d > 0 {
		cfg.Feed.BackoffMin = d
	}
	if d := durationEnv("FEED_BACKOFF_MAX_MS"); d > 0 {
		cfg.Feed.BackoffMax = d
	}

	if v := os.Getenv("SETTLEMENT_ADDRESS"); v != "" {
		cfg.Order.Settlement = common.HexToAddress(v)
	}
	if v := os.Getenv("MAKER_ASSET"); v != "" {
		cfg.Order.MakerAsset = common.HexToAddress(v)
	}
	if v := os.Getenv("TAKER_ASSET"); v != "" {
		cfg.Order.TakerAsset = common.HexToAddress(v)
	}
	if d := durationEnv("ORDER_EXPIRY_MS"); d > 0 {
		cfg.Order.Expiry = d
	}
	if d := durationEnv("GRACE_PERIOD_MS"); d > 0 {
		cfg.Order.GracePeriod = d
	}

	if v := os.Getenv("SINK_URL"); v != "" {
		cfg.SinkURL = v
	}
	if d := durationEnv("WATCHDOG_INTERVAL_MS"); d > 0 {
		cfg.Watchdog.Interval = d
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.PrivateKey = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	return cfg
}

func durationEnv(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
