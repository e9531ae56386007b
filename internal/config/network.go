package config

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/goatnetwork/peg-relayer/internal/types"
)

// BridgeConstants are the per-network parameters the bridge contract was
// deployed with.
type BridgeConstants struct {
	Name      string
	BtcParams *chaincfg.Params

	FederationPublicKeys []string
	FederationQuorum     types.Quorum
	FederationCreatedAt  time.Time

	Btc2TargetMinimumAcceptableConfirmations         int64
	Btc2TargetMinimumAcceptableConfirmationsOnTarget int64
	Target2BtcMinimumAcceptableConfirmations         int64

	MaxBtcHeadersPerTargetBlock int

	MinimumLockTxValue    int64
	MinimumReleaseTxValue int64

	FederationChangeKeys      []string
	FederationChangeQuorum    types.Quorum
	LockWhitelistChangeKeys   []string
	LockWhitelistChangeQuorum types.Quorum
	FeePerKbChangeKeys        []string
	FeePerKbChangeQuorum      types.Quorum

	GenesisFeePerKb int64
}

var devnetConstants = BridgeConstants{
	Name:      "devnet",
	BtcParams: &chaincfg.TestNet3Params,
	FederationPublicKeys: []string{
		"0234ab441aa5edb1c7341315e21408c3947cce345156c465b3336e8c6a5552f35f",
		"03301f6c4422aa96d85f52a93612a0c6eeea3d04cfa32f97a7a764c67e062e992a",
		"02d33a1f8f5cfa2f7be71b0002710f4c8f3ea44fef40056be7b89ed3ca0eb3431c",
	},
	FederationQuorum:    types.QuorumMajority,
	FederationCreatedAt: time.Date(2017, 11, 14, 0, 0, 0, 0, time.UTC),

	Btc2TargetMinimumAcceptableConfirmations:         1,
	Btc2TargetMinimumAcceptableConfirmationsOnTarget: 10,
	Target2BtcMinimumAcceptableConfirmations:         10,

	MaxBtcHeadersPerTargetBlock: 500,

	MinimumLockTxValue:    1_000_000,
	MinimumReleaseTxValue: 500_000,

	FederationChangeKeys: []string{
		"04dde17c5fab31ffc53c91c2390136c325bb8690dc135b0840075dd7b86910d8ab9e88baad0c32f3eea8833446a6bc5ff1cd2efa99ecb17801bcb65fc16fc7d991",
		"04af886c67231476807e2a8eee9193878b9d94e30aa2ee469a9611d20e1e1c1b438e5044148f65e6e61bf03e9d72e597cb9cdea96d6fc044001b22099f9ec403e2",
		"045d4dedf9c69ab3ea139d0f0da0ad00160b7663d01ce7a6155cd44a3567d360112b0480ab6f31cac7345b5f64862205ea7ccf555fcf218f87fa0d801008fecb61",
		"04709f002ac4642b6a87ea0a9dc76eeaa93f71b3185985817ec1827eae34b46b5d869320efb5c5cbe2a5c13f96463fe0210710b53352a4314188daffe07bd54154",
		"0447b4aba974c61c6c4045893267346730ec965b308e7ca04a899cf06a901face3106e1eef1bdad04928cd8263522eda4872d20d3fe1ef5e551785c4a482656a6e",
	},
	FederationChangeQuorum: types.QuorumMajority,
	LockWhitelistChangeKeys: []string{
		"0447b4aba974c61c6c4045893267346730ec965b308e7ca04a899cf06a901face3106e1eef1bdad04928cd8263522eda4872d20d3fe1ef5e551785c4a482656a6e",
	},
	LockWhitelistChangeQuorum: types.QuorumOne,
	FeePerKbChangeKeys: []string{
		"0430c7d0146029db553d60cf11e8d39df1c63979ee2e4cd1e4d4289a5d88cfcbf3a09b06b5cbc88b5bfeb4b87a94cefab81c8d44655e7e813fc3e18f51cfe7e8a0",
	},
	FeePerKbChangeQuorum: types.QuorumMajority,

	// 100 microcoin
	GenesisFeePerKb: 10_000,
}

var testnetConstants = BridgeConstants{
	Name:      "testnet",
	BtcParams: &chaincfg.TestNet3Params,
	FederationPublicKeys: []string{
		"03ade011a7d730a981f30e1d314d57d1a60e76739ec1f12582f70967054576ec15",
		"024991d7f49c94b000c516727d308721c471d0783ced0d11e6b217f48e079a26f8",
		"03c0382876de53001cba785de593ab61171d4e9670f33108d328e8bd26031fe145",
		"0228ccb924b660734634a67c9d68f05cadca949f8f3adddb4c6e33ce9d945dbadc",
		"024c749a7f6f98159fd35ba49b3d628f9b297c8f7dfbb045be9fff4010ab366cc1",
		"02d6284a04c1d0c2f50cb7c9fd599ad778eb850997ebcc672bd65a0ff2c2ff6ab2",
		"029c0f35b3507ec75ef264abc0d4728a334cc459273462c9b845774d8aba251173",
	},
	FederationQuorum:    types.QuorumMajority,
	FederationCreatedAt: time.UnixMilli(1514948400),

	Btc2TargetMinimumAcceptableConfirmations:         10,
	Btc2TargetMinimumAcceptableConfirmationsOnTarget: 10,
	Target2BtcMinimumAcceptableConfirmations:         10,

	MaxBtcHeadersPerTargetBlock: 500,

	MinimumLockTxValue:    1_000_000,
	MinimumReleaseTxValue: 500_000,

	FederationChangeKeys: []string{
		"04948cfbe12df6fe502d03299d9d6d50858adb37f4c2bf2f66baad02f22de674748b16b7338e670f1e67552b4924837b282ee4183448e18af1b75b1ca79c8510ce",
		"044a3440ffe5cd02e2e57e15808dc4cf402912340d4592e83c7cb6717071b975e58eb76eb72f3568c27764b0c63fbc06a865c7d0ebdf490158acce311430a59d84",
		"042f406d5d438d6635ab349783089da883dc150258cf33461683baf4d291ce1c8b1f9a2efa34c5e9c6a52b4e41be5f9da59720a355a7c485d6f3282c6e02dba48b",
	},
	FederationChangeQuorum: types.QuorumMajority,
	LockWhitelistChangeKeys: []string{
		"04fb61525707d63459ab110835977347e270b14e2976b21239dae8e7f4b285f829a6a504659b4c98f74fd53793302bedf2ac8a5a6a640d950fc45af0ab24f918ed",
	},
	LockWhitelistChangeQuorum: types.QuorumOne,
	FeePerKbChangeKeys: []string{
		"04522d38f7afe849b2f34763316c2d4d6b265b6552f25c4bbc892cba3b2851cffe4a4a43a2ea5f5ce2bbb5ce5f4e27ad33127cdf1f9f5dba9fc57798d19472f6af",
		"04d2216c572325a6063e424b589fdd9cf9a997e6ded52a22b47f680022ba1fabf559f5e6b4ab1a4575e730a998562376be850907a9d7aded07d428c7ac907678e8",
		"0422576758ce04ea376bc766c55cd57cf18e90c7cd96d37149c7bf956b6f7c510b14aeed3be18411ac9085129d5405830f59d26d5e63d7c9ead7980fd83966adea",
	},
	FeePerKbChangeQuorum: types.QuorumMajority,

	// 1 millicoin
	GenesisFeePerKb: 100_000,
}

// BridgeConstantsFor returns a copy of the named network's constants.
// regtest shares the devnet federation on the regression network.
func BridgeConstantsFor(network string) (BridgeConstants, error) {
	switch network {
	case "", "devnet":
		return devnetConstants, nil
	case "testnet":
		return testnetConstants, nil
	case "regtest":
		c := devnetConstants
		c.Name = "regtest"
		c.BtcParams = &chaincfg.RegressionNetParams
		return c, nil
	default:
		return BridgeConstants{}, fmt.Errorf("unknown bridge network %q", network)
	}
}
