// Package anchor optionally writes receipt-batch digests on chain. All
// transactions flow through one FIFO queue with a locally managed nonce
// and each job awaits its receipt before the next starts, so concurrent
// anchors can never collide on the shared wallet's nonce.
package anchor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// Client is the subset of the Ethereum RPC client the writer needs.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Job is one digest to anchor. Done receives the tx hash or an error.
type Job struct {
	Digest []byte
	Done   chan Result
}

// Result reports the anchored transaction.
type Result struct {
	TxHash string
	Err    error
}

// Writer serializes anchor transactions.
type Writer struct {
	client  Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  zerolog.Logger

	jobs chan Job

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	// nonce is owned by the worker goroutine after Start.
	nonce       uint64
	nonceLoaded bool
}

// NewWriter builds a writer signing with the given hex private key.
func NewWriter(client Client, privateKeyHex string, chainID int64, logger zerolog.Logger) (*Writer, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("anchor: parse private key: %w", err)
	}
	return &Writer{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
		logger:  logger.With().Str("component", "anchor").Logger(),
		jobs:    make(chan Job, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the single worker.
func (w *Writer) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Stop drains nothing: queued jobs past the stop signal receive an
// error. Blocks until the worker exits.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
	})
}

// Enqueue submits a digest for anchoring. Returns the job's result
// channel; callers may discard it if they do not care about the hash.
func (w *Writer) Enqueue(digest []byte) (chan Result, error) {
	job := Job{Digest: digest, Done: make(chan Result, 1)}
	select {
	case w.jobs <- job:
		return job.Done, nil
	default:
		return nil, fmt.Errorf("anchor: queue full")
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case job := <-w.jobs:
			result := w.anchor(job.Digest)
			job.Done <- result
			if result.Err != nil {
				w.logger.Error().Err(result.Err).Msg("anchor.write_failed")
			} else {
				w.logger.Info().Str("tx_hash", result.TxHash).Msg("anchor.written")
			}
		}
	}
}

func (w *Writer) anchor(digest []byte) Result {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if !w.nonceLoaded {
		nonce, err := w.client.PendingNonceAt(ctx, w.from)
		if err != nil {
			return Result{Err: fmt.Errorf("anchor: load nonce: %w", err)}
		}
		w.nonce = nonce
		w.nonceLoaded = true
	}

	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("anchor: gas price: %w", err)}
	}

	// Zero-value self-send carrying the digest as calldata.
	tx := types.NewTransaction(w.nonce, w.from, big.NewInt(0), 50000, gasPrice, digest)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return Result{Err: fmt.Errorf("anchor: sign tx: %w", err)}
	}

	if err := w.client.SendTransaction(ctx, signed); err != nil {
		// Nonce state is unknown after a send failure; reload next time.
		w.nonceLoaded = false
		return Result{Err: fmt.Errorf("anchor: send tx: %w", err)}
	}
	w.nonce++

	if err := w.awaitReceipt(ctx, signed.Hash()); err != nil {
		return Result{TxHash: signed.Hash().Hex(), Err: err}
	}
	return Result{TxHash: signed.Hash().Hex()}
}

func (w *Writer) awaitReceipt(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := w.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("anchor: tx %s reverted", hash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("anchor: await receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
