package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// MineMode selects how a cycle waits for its transactions to land.
type MineMode string

const (
	// MineNone leaves block production to the network.
	MineNone MineMode = "none"
	// MineEVM asks a dev node to seal a block right away.
	MineEVM MineMode = "evm_mine"
	// MineWait polls until the chain advances by one block.
	MineWait MineMode = "wait"
)

func ParseMineMode(s string) (MineMode, error) {
	switch mode := MineMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case MineNone, MineEVM, MineWait:
		return mode, nil
	case "":
		return MineNone, nil
	}
	return "", fmt.Errorf("unknown mine mode %q", s)
}

// Mine makes the transactions sent so far visible to the next step.
func (c *Client) Mine(ctx context.Context) error {
	switch c.mineMode {
	case MineEVM:
		if c.raw == nil {
			return ErrNoRawCaller
		}
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var res any
		if err := c.raw.CallContext(ctx, &res, "evm_mine"); err != nil {
			return fmt.Errorf("evm_mine: %w", err)
		}
		return nil
	case MineWait:
		return c.waitNextBlock(ctx)
	}
	return nil
}

func (c *Client) waitNextBlock(ctx context.Context) error {
	start, err := c.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("wait for block: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ticker := time.NewTicker(c.minePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no block after %d within %v: %w", start, c.timeout, ctx.Err())
		case <-ticker.C:
			n, err := c.backend.BlockNumber(ctx)
			if err != nil {
				log.Debugf("Wait for block after %d: %v", start, err)
				continue
			}
			if n > start {
				return nil
			}
		}
	}
}
