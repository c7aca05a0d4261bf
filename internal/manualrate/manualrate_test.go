package manualrate_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	redismock "github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/manualrate"
)

func noWait() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, cur, err := manualrate.Validate("usd", "ars", decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.Equal(t, "USD", base)
	require.Equal(t, "ARS", cur)

	_, _, err = manualrate.Validate("USD", "EUR", decimal.NewFromInt(1))
	require.ErrorIs(t, err, manualrate.ErrProviderCurrency)

	_, _, err = manualrate.Validate("USD", "CNY", decimal.Zero)
	require.ErrorIs(t, err, manualrate.ErrInvalidRate)

	_, _, err = manualrate.Validate("ARS", "CNY", decimal.NewFromInt(1))
	require.ErrorIs(t, err, manualrate.ErrInvalidCurrency)

	_, _, err = manualrate.Validate("USD", "PESO", decimal.NewFromInt(1))
	require.ErrorIs(t, err, manualrate.ErrInvalidCurrency)
}

func TestMemory(t *testing.T) {
	t.Parallel()

	store := manualrate.NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, cur := range []string{"ARS", "CNY"} {
		cur := cur
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Set(ctx, "usd", cur, decimal.NewFromInt(7)))
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "USD")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Callers get a copy.
	delete(got, "ARS")
	again, err := store.Get(ctx, "USD")
	require.NoError(t, err)
	require.Len(t, again, 2)

	empty, err := store.Get(ctx, "EUR")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestRedis_Get(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := manualrate.NewRedis(db, manualrate.WithLogger(zaptest.NewLogger(t)))

	mock.ExpectHGetAll("manualrate:USD").SetVal(map[string]string{
		"ARS": "1000.5",
		"CNY": "not-a-number",
	})

	got, err := store.Get(context.Background(), "usd")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "1000.5", got["ARS"].String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_GetError(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := manualrate.NewRedis(db)

	mock.ExpectHGetAll("manualrate:EUR").SetErr(errors.New("connection refused"))

	_, err := store.Get(context.Background(), "EUR")
	require.ErrorContains(t, err, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_SetRetriesTransientError(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := manualrate.NewRedis(db, manualrate.WithBackOff(noWait))

	mock.ExpectHSet("manualrate:USD", "ARS", "1000").SetErr(errors.New("i/o timeout"))
	mock.ExpectHSet("manualrate:USD", "ARS", "1000").SetVal(1)

	require.NoError(t, store.Set(context.Background(), "USD", "ars", decimal.NewFromInt(1000)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_SetRejectsProviderCurrency(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := manualrate.NewRedis(db)

	err := store.Set(context.Background(), "USD", "GBP", decimal.NewFromInt(1))
	require.ErrorIs(t, err, manualrate.ErrProviderCurrency)
	require.NoError(t, mock.ExpectationsWereMet())
}
