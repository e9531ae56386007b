package config

import (
	"errors"
	"io/fs"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goatnetwork/peg-relayer/internal/bridge"
	"github.com/goatnetwork/peg-relayer/internal/types"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

func InitConfig() {
	// a missing .env is fine, the environment alone may carry everything
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("Failed to load .env file: %v", err)
	}

	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("ENABLE_HTTP", true)
	viper.SetDefault("BTC_RPC", "localhost:8332")
	viper.SetDefault("BTC_RPC_USER", "")
	viper.SetDefault("BTC_RPC_PASS", "")
	viper.SetDefault("BTC_NETWORK_TYPE", "")
	viper.SetDefault("BTC_RPC_TIMEOUT", "10s")
	viper.SetDefault("BTC_IMPORT_TIMEOUT", "60s")
	viper.SetDefault("TARGET_RPC", "http://localhost:4444")
	viper.SetDefault("TARGET_JWT_SECRET", "")
	viper.SetDefault("TARGET_CHAIN_ID", "0")
	viper.SetDefault("TARGET_CONFIRMATIONS", 0)
	viper.SetDefault("TARGET_RPC_TIMEOUT", "10s")
	viper.SetDefault("TARGET_MINE_MODE", "none")
	viper.SetDefault("TARGET_POLL_INTERVAL", "5s")
	viper.SetDefault("BRIDGE_NETWORK", "devnet")
	viper.SetDefault("BRIDGE_CONTRACT", "0x0000000000000000000000000000000001000006")
	viper.SetDefault("FEDERATION_PUBLIC_KEYS", "")
	viper.SetDefault("FEDERATOR_PRIVATE_KEYS", "")
	viper.SetDefault("KEYSTORE_DIR", "")
	viper.SetDefault("KEYSTORE_PASSWORD", "")
	viper.SetDefault("HEADERS_PER_BATCH", 500)
	viper.SetDefault("RECEIVE_HEADERS_INTERVAL", "60s")
	viper.SetDefault("POLL_INTERVAL", "10s")
	viper.SetDefault("POLL_START_DELAY", "10s")
	viper.SetDefault("UPDATE_COLLECTIONS_INTERVAL", "60s")
	viper.SetDefault("UPDATE_COLLECTIONS_MAX_BLOCKS", 10)
	viper.SetDefault("WHITELIST_COIN_MULTIPLE", 1)
	viper.SetDefault("DISPATCH_QUEUE_SIZE", 16)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_PATH", "")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	constants, err := BridgeConstantsFor(viper.GetString("BRIDGE_NETWORK"))
	if err != nil {
		logrus.Fatalf("Failed to load bridge constants: %v", err)
	}
	if keys := splitList(viper.GetString("FEDERATION_PUBLIC_KEYS")); len(keys) > 0 {
		constants.FederationPublicKeys = keys
	}

	targetChainId, err := strconv.ParseInt(viper.GetString("TARGET_CHAIN_ID"), 10, 64)
	if err != nil {
		logrus.Fatalf("Failed to parse target chain id: %v", err)
	}

	bridgeContract := viper.GetString("BRIDGE_CONTRACT")
	if !common.IsHexAddress(bridgeContract) {
		logrus.Fatalf("Invalid bridge contract address: %s", bridgeContract)
	}

	mineMode, err := bridge.ParseMineMode(viper.GetString("TARGET_MINE_MODE"))
	if err != nil {
		logrus.Fatalf("Invalid target mine mode: %v", err)
	}

	AppConfig = Config{
		HTTPPort:                   viper.GetString("HTTP_PORT"),
		EnableHTTP:                 viper.GetBool("ENABLE_HTTP"),
		BTCRPC:                     viper.GetString("BTC_RPC"),
		BTCRPC_USER:                viper.GetString("BTC_RPC_USER"),
		BTCRPC_PASS:                viper.GetString("BTC_RPC_PASS"),
		BTCNetworkType:             viper.GetString("BTC_NETWORK_TYPE"),
		BTCRPCTimeout:              viper.GetDuration("BTC_RPC_TIMEOUT"),
		BTCImportTimeout:           viper.GetDuration("BTC_IMPORT_TIMEOUT"),
		TargetRPC:                  viper.GetString("TARGET_RPC"),
		TargetJwtSecret:            viper.GetString("TARGET_JWT_SECRET"),
		TargetChainId:              big.NewInt(targetChainId),
		TargetConfirmations:        viper.GetUint64("TARGET_CONFIRMATIONS"),
		TargetRPCTimeout:           viper.GetDuration("TARGET_RPC_TIMEOUT"),
		TargetMineMode:             mineMode,
		TargetPollInterval:         viper.GetDuration("TARGET_POLL_INTERVAL"),
		Bridge:                     constants,
		BridgeContract:             common.HexToAddress(bridgeContract),
		FederatorPrivateKeys:       splitList(viper.GetString("FEDERATOR_PRIVATE_KEYS")),
		KeystoreDir:                viper.GetString("KEYSTORE_DIR"),
		KeystorePassword:           viper.GetString("KEYSTORE_PASSWORD"),
		HeadersPerBatch:            viper.GetInt("HEADERS_PER_BATCH"),
		ReceiveHeadersInterval:     viper.GetDuration("RECEIVE_HEADERS_INTERVAL"),
		PollInterval:               viper.GetDuration("POLL_INTERVAL"),
		PollStartDelay:             viper.GetDuration("POLL_START_DELAY"),
		UpdateCollectionsInterval:  viper.GetDuration("UPDATE_COLLECTIONS_INTERVAL"),
		UpdateCollectionsMaxBlocks: viper.GetUint64("UPDATE_COLLECTIONS_MAX_BLOCKS"),
		WhitelistCoinMultiple:      viper.GetInt64("WHITELIST_COIN_MULTIPLE"),
		DispatchQueueSize:          viper.GetInt("DISPATCH_QUEUE_SIZE"),
		LogLevel:                   logLevel,
		DbPath:                     viper.GetString("DB_PATH"),
	}

	if AppConfig.BTCNetworkType == "" {
		AppConfig.BTCNetworkType = constants.BtcParams.Name
	}

	if maxHeaders := constants.MaxBtcHeadersPerTargetBlock; AppConfig.HeadersPerBatch <= 0 || AppConfig.HeadersPerBatch > maxHeaders {
		logrus.Warnf("HEADERS_PER_BATCH %d out of range, set to %d", AppConfig.HeadersPerBatch, maxHeaders)
		AppConfig.HeadersPerBatch = maxHeaders
	}
	if AppConfig.WhitelistCoinMultiple <= 0 {
		logrus.Warnf("WHITELIST_COIN_MULTIPLE must be positive, set to 1")
		AppConfig.WhitelistCoinMultiple = 1
	}
	if AppConfig.DispatchQueueSize <= 0 {
		AppConfig.DispatchQueueSize = 16
	}

	logrus.Infof("Init config, bridge network %s, btc network %s, PollInterval %v, HeadersPerBatch %d",
		constants.Name, AppConfig.BTCNetworkType, AppConfig.PollInterval, AppConfig.HeadersPerBatch)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

// BTCParams returns the chain parameters of the source network.
func (c *Config) BTCParams() *chaincfg.Params {
	return types.GetBTCNetwork(c.BTCNetworkType)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type Config struct {
	HTTPPort                   string
	EnableHTTP                 bool
	BTCRPC                     string
	BTCRPC_USER                string
	BTCRPC_PASS                string
	BTCNetworkType             string
	BTCRPCTimeout              time.Duration
	BTCImportTimeout           time.Duration
	TargetRPC                  string
	TargetJwtSecret            string
	TargetChainId              *big.Int
	TargetConfirmations        uint64
	TargetRPCTimeout           time.Duration
	TargetMineMode             bridge.MineMode
	TargetPollInterval         time.Duration
	Bridge                     BridgeConstants
	BridgeContract             common.Address
	FederatorPrivateKeys       []string
	KeystoreDir                string
	KeystorePassword           string
	HeadersPerBatch            int
	ReceiveHeadersInterval     time.Duration
	PollInterval               time.Duration
	PollStartDelay             time.Duration
	UpdateCollectionsInterval  time.Duration
	UpdateCollectionsMaxBlocks uint64
	WhitelistCoinMultiple      int64
	DispatchQueueSize          int
	LogLevel                   logrus.Level
	DbPath                     string
}
