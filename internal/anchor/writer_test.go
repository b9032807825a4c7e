package anchor

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu     sync.Mutex
	nonces []uint64
	sent   []*types.Transaction
}

func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces = append(f.nonces, tx.Nonce())
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func testKeyHex(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(crypto.FromECDSA(key))
}

func TestWriterSerializesNonces(t *testing.T) {
	client := &fakeClient{}
	w, err := NewWriter(client, testKeyHex(t), 84532, zerolog.Nop())
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	var results []chan Result
	for i := 0; i < 3; i++ {
		done, err := w.Enqueue([]byte{byte(i)})
		require.NoError(t, err)
		results = append(results, done)
	}

	for _, done := range results {
		select {
		case result := <-done:
			require.NoError(t, result.Err)
			require.NotEmpty(t, result.TxHash)
		case <-time.After(5 * time.Second):
			t.Fatal("anchor job timed out")
		}
	}

	// Strictly increasing local nonces starting from the chain value.
	require.Equal(t, []uint64{7, 8, 9}, client.nonces)
}

func TestWriterCarriesDigest(t *testing.T) {
	client := &fakeClient{}
	w, err := NewWriter(client, testKeyHex(t), 84532, zerolog.Nop())
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	done, err := w.Enqueue([]byte("receipt-batch-digest"))
	require.NoError(t, err)
	<-done

	require.Len(t, client.sent, 1)
	require.Equal(t, []byte("receipt-batch-digest"), client.sent[0].Data())
}

func TestNewWriterRejectsBadKey(t *testing.T) {
	_, err := NewWriter(&fakeClient{}, "zz-not-hex", 84532, zerolog.Nop())
	require.Error(t, err)
}
