package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/goatnetwork/peg-relayer/internal/config"
	"github.com/goatnetwork/peg-relayer/internal/federation"
	"github.com/goatnetwork/peg-relayer/internal/types"
)

func main() {
	var (
		keys      = flag.String("keys", "", "Comma separated compressed member public keys in hex, defaults to the network constants")
		network   = flag.String("network", "devnet", "Bridge network: devnet, testnet, regtest")
		quorumArg = flag.String("quorum", "", "Quorum rule: majority or one, defaults to the network constants")
		help      = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		fmt.Println("Usage: fedaddr [options]")
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	constants, err := config.BridgeConstantsFor(*network)
	if err != nil {
		log.Fatalf("Invalid network: %v", err)
	}

	memberKeys := constants.FederationPublicKeys
	if *keys != "" {
		memberKeys = strings.Split(*keys, ",")
	}
	quorum := constants.FederationQuorum
	if *quorumArg != "" {
		if quorum, err = types.ParseQuorum(*quorumArg); err != nil {
			log.Fatalf("Invalid quorum: %v", err)
		}
	}

	fed, err := federation.FromHex(memberKeys, quorum, constants.FederationCreatedAt, constants.BtcParams)
	if err != nil {
		log.Fatalf("Failed to build federation: %v", err)
	}

	fmt.Printf("Federation Address: %s\n", fed.Address().EncodeAddress())
	fmt.Printf("Redeem Script: %s\n", hex.EncodeToString(fed.RedeemScript()))
	fmt.Printf("Required Signatures: %d of %d (%s)\n", fed.MinimumRequired(), fed.Size(), fed.Quorum())
	fmt.Printf("Network: %s (%s)\n", constants.Name, constants.BtcParams.Name)
	for i, pub := range fed.PublicKeys() {
		fmt.Printf("Member %d: %x %s\n", i, pub.SerializeCompressed(), types.TargetAddressFromPubKey(pub).Hex())
	}
}
