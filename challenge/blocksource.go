package challenge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/keywarden/keywarden/interfaces"
)

// EthBlockSource supplies freshness anchors from an Ethereum-compatible RPC
// endpoint. The chain is used purely as a freshness and verification oracle.
type EthBlockSource struct {
	client *ethclient.Client
}

// NewEthBlockSource connects to the RPC endpoint at rpcAddr.
func NewEthBlockSource(rpcAddr string) (*EthBlockSource, error) {
	client, err := ethclient.Dial(rpcAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return &EthBlockSource{client: client}, nil
}

// LatestBlock returns the current head's height and hash.
func (s *EthBlockSource) LatestBlock(ctx context.Context) (interfaces.BlockRef, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return interfaces.BlockRef{}, fmt.Errorf("failed to fetch chain head: %w", err)
	}

	return interfaces.BlockRef{
		Height: header.Number.Uint64(),
		Hash:   [32]byte(header.Hash()),
	}, nil
}

// StaticBlockSource returns a fixed block reference. Intended for tests and
// offline tooling where no chain endpoint is available.
type StaticBlockSource struct {
	Block interfaces.BlockRef
}

// LatestBlock returns the configured block reference.
func (s *StaticBlockSource) LatestBlock(ctx context.Context) (interfaces.BlockRef, error) {
	return s.Block, nil
}
