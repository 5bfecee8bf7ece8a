package crm

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/tenant"
)

func TestPostgresStore_ListRecipients(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "tenant_acme".recipients`)).
		WithArgs(`{"plan":"pro"}`, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "attributes"}).
			AddRow("r1", []byte(`{"email":"a@example.com","plan":"pro"}`)).
			AddRow("r2", []byte(`{"email":"b@example.com","plan":"pro"}`)))

	got, err := store.ListRecipients(context.Background(), tenant.Scope{TenantID: "acme", Schema: "tenant_acme"},
		map[string]interface{}{"plan": "pro"}, Page{Limit: 50})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b@example.com", got[1].Data["email"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Errors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)

	_, err = store.ListRecipients(context.Background(), tenant.Scope{TenantID: "x", Schema: "bad;schema"}, nil, Page{})
	assert.ErrorIs(t, err, ErrTenantUnavailable)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "tenant_down".recipients`)).
		WillReturnError(errors.New("connection refused"))
	_, err = store.ListRecipients(context.Background(), tenant.Scope{TenantID: "down", Schema: "tenant_down"}, nil, Page{})
	assert.ErrorIs(t, err, ErrTenantUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaticStore(t *testing.T) {
	s := NewStaticStore()
	s.Add("t1",
		Recipient{ID: "b", Data: map[string]interface{}{"plan": "pro"}},
		Recipient{ID: "a", Data: map[string]interface{}{"plan": "pro"}},
		Recipient{ID: "c", Data: map[string]interface{}{"plan": "free"}},
	)
	ctx := context.Background()
	scope := tenant.Scope{TenantID: "t1"}

	got, err := s.ListRecipients(ctx, scope, map[string]interface{}{"plan": "pro"}, Page{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)

	got, _ = s.ListRecipients(ctx, scope, nil, Page{Limit: 1, Offset: 2})
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	s.Fail("t1", errors.New("down"))
	_, err = s.ListRecipients(ctx, scope, nil, Page{})
	assert.ErrorIs(t, err, ErrTenantUnavailable)
}
