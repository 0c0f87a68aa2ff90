package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

func expectLockConversation(mock sqlmock.Sqlmock, conversationID string, locked, restricted bool) {
	mock.ExpectQuery("SELECT requestor_uuid, provider_uuid, locked, restricted").
		WithArgs(conversationID).
		WillReturnRows(sqlmock.NewRows([]string{"requestor_uuid", "provider_uuid", "locked", "restricted"}).
			AddRow("req1", "prv1", locked, restricted))
}

func TestCreateOffer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	expectLockConversation(mock, "cnv1", false, false)
	mock.ExpectQuery("INSERT INTO offers").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectCommit()

	offer, err := ds.CreateOffer(context.Background(), &model.Offer{
		ConversationID: "cnv1",
		SenderUUID:     "prv1",
		Price:          decimal.RequireFromString("5000.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OfferStatusPending, offer.Status)
	assert.NotEmpty(t, offer.OfferID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOffer_LockedConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	expectLockConversation(mock, "cnv1", true, false)
	mock.ExpectRollback()

	_, err = ds.CreateOffer(context.Background(), &model.Offer{
		ConversationID: "cnv1",
		SenderUUID:     "prv1",
		Price:          decimal.RequireFromString("5000.00"),
	})
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOffer_RestrictedConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	expectLockConversation(mock, "cnv1", false, true)
	mock.ExpectRollback()

	_, err = ds.CreateOffer(context.Background(), &model.Offer{
		ConversationID: "cnv1",
		SenderUUID:     "req1",
		Price:          decimal.RequireFromString("100.00"),
	})
	assert.True(t, apierror.Is(err, apierror.ErrForbidden))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOffer_StrangerRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	expectLockConversation(mock, "cnv1", false, false)
	mock.ExpectRollback()

	_, err = ds.CreateOffer(context.Background(), &model.Offer{
		ConversationID: "cnv1",
		SenderUUID:     "stranger",
		Price:          decimal.RequireFromString("100.00"),
	})
	assert.True(t, apierror.Is(err, apierror.ErrForbidden))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOfferStatusWithReason_FromPendingOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT conversation_id, sender_uuid, price, status FROM offers").
		WithArgs("off1").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "sender_uuid", "price", "status"}).
			AddRow("cnv1", "prv1", "5000.00", model.OfferStatusAccepted))
	mock.ExpectRollback()

	_, err = ds.UpdateOfferStatusWithReason(context.Background(), "off1", model.OfferStatusDeclined, "too expensive", "price")
	assert.True(t, apierror.Is(err, apierror.ErrConflict))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOfferStatusWithReason(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT conversation_id, sender_uuid, price, status FROM offers").
		WithArgs("off1").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "sender_uuid", "price", "status"}).
			AddRow("cnv1", "prv1", "5000.00", model.OfferStatusPending))
	mock.ExpectExec("UPDATE offers SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	offer, err := ds.UpdateOfferStatusWithReason(context.Background(), "off1", model.OfferStatusDeclined, "too expensive", "price")
	require.NoError(t, err)
	assert.Equal(t, model.OfferStatusDeclined, offer.Status)
	assert.Equal(t, "too expensive", offer.Reason)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterOffer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT conversation_id, sender_uuid, status FROM offers").
		WithArgs("off1").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "sender_uuid", "status"}).
			AddRow("cnv1", "prv1", model.OfferStatusPending))
	mock.ExpectQuery("INSERT INTO offers").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectExec("UPDATE offers SET status").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	counter, err := ds.CounterOffer(context.Background(), "off1", &model.Offer{
		SenderUUID: "req1",
		Price:      decimal.RequireFromString("4000.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OfferStatusPending, counter.Status)
	assert.Equal(t, "cnv1", counter.ConversationID)
	assert.NotEmpty(t, counter.OfferID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterOffer_OwnOfferRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT conversation_id, sender_uuid, status FROM offers").
		WithArgs("off1").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "sender_uuid", "status"}).
			AddRow("cnv1", "prv1", model.OfferStatusPending))
	mock.ExpectRollback()

	_, err = ds.CounterOffer(context.Background(), "off1", &model.Offer{
		SenderUUID: "prv1",
		Price:      decimal.RequireFromString("6000.00"),
	})
	assert.True(t, apierror.Is(err, apierror.ErrForbidden))

	assert.NoError(t, mock.ExpectationsWereMet())
}
