package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/imagegen/internal/ledger"
	"github.com/inaiurai/imagegen/internal/ledger/ledgertest"
	"github.com/inaiurai/imagegen/internal/models"
)

func newLedger(balance int) (*ledger.Service, *ledgertest.Store, uuid.UUID) {
	id := uuid.New()
	store := ledgertest.NewStore(&models.User{ID: id, Email: "a@example.com", CurrentCredits: balance})
	return ledger.NewService(store, store, store), store, id
}

// reconciles checks that the starting balance plus every signed entry equals
// the current balance.
func reconciles(t *testing.T, store *ledgertest.Store, userID uuid.UUID, initial int) {
	t.Helper()
	sum := initial
	for _, e := range store.Transactions() {
		if e.UserID == userID {
			sum += e.Signed()
		}
	}
	assert.Equal(t, store.Credits(userID), sum, "balance must equal initial + sum of signed entries")
	assert.GreaterOrEqual(t, store.Credits(userID), 0)
}

func TestReserve(t *testing.T) {
	svc, store, user := newLedger(10)
	ctx := context.Background()
	req := uuid.New()

	entry, err := svc.Reserve(ctx, user, 3, req, "1024x1024 image")
	require.NoError(t, err)
	assert.Equal(t, models.CreditTxDeduction, entry.Type)
	assert.Equal(t, 3, entry.Credits)
	assert.Equal(t, req, entry.GenerationRequestID)
	require.NotNil(t, entry.BalanceAfter)
	assert.Equal(t, 7, *entry.BalanceAfter)
	assert.Equal(t, 7, store.Credits(user))
	reconciles(t, store, user, 10)
}

func TestReserve_InsufficientCreditsLeavesNoTrace(t *testing.T) {
	svc, store, user := newLedger(2)

	_, err := svc.Reserve(context.Background(), user, 3, uuid.New(), "")
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)
	assert.Equal(t, 2, store.Credits(user))
	assert.Empty(t, store.Transactions())
}

func TestReserve_UnknownUser(t *testing.T) {
	svc, _, _ := newLedger(10)

	_, err := svc.Reserve(context.Background(), uuid.New(), 1, uuid.New(), "")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestReserve_InvalidAmount(t *testing.T) {
	svc, store, user := newLedger(10)

	for _, amount := range []int{0, -1} {
		_, err := svc.Reserve(context.Background(), user, amount, uuid.New(), "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}
	assert.Equal(t, 10, store.Credits(user))
}

func TestReserve_ConcurrentNeverOverdraws(t *testing.T) {
	svc, store, user := newLedger(10)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, user, 3, uuid.New(), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrInsufficientCredits):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok, "only floor(10/3) reservations fit")
	assert.Equal(t, 5, rejected)
	assert.Equal(t, 1, store.Credits(user))
	reconciles(t, store, user, 10)
}

func TestRefund_Idempotent(t *testing.T) {
	svc, store, user := newLedger(10)
	ctx := context.Background()
	req := uuid.New()

	_, err := svc.Reserve(ctx, user, 3, req, "")
	require.NoError(t, err)

	first, err := svc.Refund(ctx, user, 3, req, "Refund for failed generation")
	require.NoError(t, err)
	second, err := svc.Refund(ctx, user, 3, req, "Refund for failed generation")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 10, store.Credits(user))
	reconciles(t, store, user, 10)
}

func TestRefund_ConcurrentAppliesOnce(t *testing.T) {
	svc, store, user := newLedger(10)
	ctx := context.Background()
	req := uuid.New()
	_, err := svc.Reserve(ctx, user, 4, req, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refund(ctx, user, 4, req, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	refunds := 0
	for _, e := range store.Transactions() {
		if e.Type == models.CreditTxRefund {
			refunds++
		}
	}
	assert.Equal(t, 1, refunds)
	assert.Equal(t, 10, store.Credits(user))
	reconciles(t, store, user, 10)
}

func TestRefundTx_RollbackUndoesCredit(t *testing.T) {
	svc, store, user := newLedger(5)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = svc.RefundTx(ctx, tx, user, 2, uuid.New(), "")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, 5, store.Credits(user))
	assert.Empty(t, store.Transactions())
}

func TestBalanceAndHistory(t *testing.T) {
	svc, _, user := newLedger(10)
	ctx := context.Background()
	req := uuid.New()

	_, err := svc.Reserve(ctx, user, 3, req, "deduct")
	require.NoError(t, err)
	_, err = svc.Refund(ctx, user, 3, req, "refund")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 10, bal)

	history, err := svc.History(ctx, user)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.CreditTxRefund, history[0].Type, "newest first")
	assert.Equal(t, models.CreditTxDeduction, history[1].Type)

	_, err = svc.History(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestRecordImageGeneratedTx(t *testing.T) {
	svc, store, user := newLedger(1)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.RecordImageGeneratedTx(ctx, tx, user))
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 1, store.ImagesGenerated(user))

	err = svc.RecordImageGeneratedTx(ctx, nil, uuid.New())
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestStatement_ReconcilesUnderConcurrentWrites(t *testing.T) {
	svc, _, user := newLedger(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			req := uuid.New()
			if _, err := svc.Reserve(ctx, user, 2, req, ""); err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if i%3 == 0 {
				if _, err := svc.Refund(ctx, user, 2, req, ""); err != nil {
					t.Errorf("refund: %v", err)
				}
			}
		}(i)
		go func() {
			defer wg.Done()
			st, err := svc.Statement(ctx, user)
			if err != nil {
				t.Errorf("statement: %v", err)
				return
			}
			sum := 100
			for _, e := range st.Transactions {
				sum += e.Signed()
			}
			if sum != st.Balance {
				t.Errorf("statement balance %d does not reconcile with its history (%d)", st.Balance, sum)
			}
		}()
	}
	wg.Wait()
}

func TestStatement_EmptyAndUnknown(t *testing.T) {
	svc, _, user := newLedger(10)
	ctx := context.Background()

	st, err := svc.Statement(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Balance)
	assert.NotNil(t, st.Transactions)
	assert.Empty(t, st.Transactions)

	_, err = svc.Statement(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}
