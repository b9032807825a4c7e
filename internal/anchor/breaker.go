package anchor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/circuitbreaker"
)

// BreakerClient runs RPC calls behind the anchor_rpc breaker.
// TransactionReceipt is passed through directly: not-found errors are
// the normal state while a transaction is pending and must not trip the
// breaker.
type BreakerClient struct {
	inner    Client
	breakers *circuitbreaker.Manager
}

func NewBreakerClient(inner Client, breakers *circuitbreaker.Manager) *BreakerClient {
	return &BreakerClient{inner: inner, breakers: breakers}
}

func (b *BreakerClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	out, err := b.breakers.Execute(circuitbreaker.ServiceAnchor, func() (any, error) {
		return b.inner.PendingNonceAt(ctx, account)
	})
	if err != nil {
		return 0, err
	}
	return out.(uint64), nil
}

func (b *BreakerClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	out, err := b.breakers.Execute(circuitbreaker.ServiceAnchor, func() (any, error) {
		return b.inner.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*big.Int), nil
}

func (b *BreakerClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := b.breakers.Execute(circuitbreaker.ServiceAnchor, func() (any, error) {
		return nil, b.inner.SendTransaction(ctx, tx)
	})
	return err
}

func (b *BreakerClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return b.inner.TransactionReceipt(ctx, txHash)
}
