package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgAccountStoreCreateCustomerDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgAccountStore(mock)
	c := &Customer{ID: uuid.New(), FullName: "Jane", Email: "jane@example.com", Phone: "254712345678", PasswordHash: "hash"}

	mock.ExpectQuery("INSERT INTO customers").
		WithArgs(c.ID, c.FullName, c.Email, c.Phone, c.PasswordHash).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "customers_email_key"})

	err = store.CreateCustomer(context.Background(), c)
	assert.ErrorIs(t, err, ErrEmailTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAccountStoreLookups(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgAccountStore(mock)
	mock.ExpectQuery("FROM customers WHERE email").
		WithArgs("missing@example.com").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM tenants WHERE email").
		WithArgs("ops@example.com").
		WillReturnError(errors.New("connection reset"))

	_, err = store.CustomerByEmail(context.Background(), "missing@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = store.TenantByEmail(context.Background(), "ops@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
