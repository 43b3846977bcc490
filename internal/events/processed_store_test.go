package events

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestPgProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewPgProcessedStore(mock)

	mock.ExpectExec("INSERT INTO processed_callbacks").WithArgs("mpesa", "ws_CO_2").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.Claim(context.Background(), "mpesa", "ws_CO_2")
	if err != nil || !ok {
		t.Fatalf("expected claim success, got %v %v", ok, err)
	}

	mock.ExpectExec("INSERT INTO processed_callbacks").WithArgs("mpesa", "ws_CO_2").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = store.Claim(context.Background(), "mpesa", "ws_CO_2")
	if err != nil || ok {
		t.Fatalf("expected duplicate claim to report false, got %v %v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryProcessedStoreClaimsOnce(t *testing.T) {
	store := NewMemoryProcessedStore()
	ctx := context.Background()

	first, _ := store.Claim(ctx, "mpesa", "ws_CO_1")
	second, _ := store.Claim(ctx, "mpesa", "ws_CO_1")
	other, _ := store.Claim(ctx, "mpesa-walkin", "ws_CO_1")
	if !first || second || !other {
		t.Fatalf("unexpected claims: first=%v second=%v other=%v", first, second, other)
	}
}
