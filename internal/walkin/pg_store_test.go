package walkin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgStorePrimaryTask(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPgStore(mock)
	ctx := context.Background()

	customerID, taskID, tenantID, locationID, bundleID := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	started := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	var (
		noStaff    *uuid.UUID
		noRating   *int
		noDuration *int
		noTime     *time.Time
	)
	mock.ExpectQuery("FROM walkin_tasks").WithArgs(customerID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "location_id", "walkin_customer_id", "location_service_id",
			"assigned_staff_id", "is_primary", "status", "progress", "quality_rating", "notes", "estimated_minutes",
			"started_at", "completed_at", "actual_duration_minutes", "created_at", "updated_at"}).
			AddRow(taskID, tenantID, locationID, customerID, bundleID, noStaff, true, "in_progress", 20, noRating, "",
				25, &started, noTime, noDuration, started, started))
	task, err := store.PrimaryTask(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, task.Status)
	assert.True(t, task.IsPrimary)
	require.NotNil(t, task.StartedAt)

	mock.ExpectQuery("FROM walkin_tasks").WithArgs(customerID).WillReturnError(pgx.ErrNoRows)
	_, err = store.PrimaryTask(ctx, customerID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreUpdatePayment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPgStore(mock)

	paid := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)
	p := &Payment{ID: uuid.New(), Status: PaymentPaid, Phone: "254722123456", CheckoutRequestID: "ws_CO_W1",
		MerchantRequestID: "mr-w1", MpesaReceipt: "NLJ7RT61SV", PaidAt: &paid}
	mock.ExpectQuery("UPDATE walkin_payments").
		WithArgs(p.ID, "paid", "254722123456", "ws_CO_W1", "mr-w1", "NLJ7RT61SV", "", p.PaidAt).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(paid))
	require.NoError(t, store.UpdatePayment(context.Background(), p))
	assert.Equal(t, paid, p.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
