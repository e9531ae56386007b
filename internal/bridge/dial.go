package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/golang-jwt/jwt/v5"
)

// NewJWTAuth signs a fresh HS256 token with an iat claim for every request,
// the scheme execution clients use for their authenticated endpoints.
func NewJWTAuth(secret [32]byte) rpc.HTTPAuth {
	return func(h http.Header) error {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iat": time.Now().Unix(),
		})
		signed, err := token.SignedString(secret[:])
		if err != nil {
			return fmt.Errorf("failed to create JWT token: %w", err)
		}
		h.Set("Authorization", "Bearer "+signed)
		return nil
	}
}

func parseJWTSecret(s string) ([32]byte, error) {
	var key [32]byte
	secret := common.FromHex(strings.TrimSpace(s))
	if len(secret) != 32 {
		return key, errors.New("jwt secret is not a 32 bytes hex string")
	}
	copy(key[:], secret)
	return key, nil
}

// Target holds the connections to the target chain node.
type Target struct {
	Eth     *ethclient.Client
	RPC     *rpc.Client
	ChainID *big.Int
}

// DialTarget connects to url. A nil or zero chainID is read from the node.
func DialTarget(ctx context.Context, url, jwtSecret string, chainID *big.Int) (*Target, error) {
	var opts []rpc.ClientOption
	if jwtSecret != "" {
		key, err := parseJWTSecret(jwtSecret)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rpc.WithHTTPAuth(NewJWTAuth(key)))
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	eth := ethclient.NewClient(client)

	if chainID == nil || chainID.Sign() == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("query target chain id: %w", err)
		}
	}
	return &Target{Eth: eth, RPC: client, ChainID: chainID}, nil
}

func (t *Target) Close() {
	t.RPC.Close()
}
