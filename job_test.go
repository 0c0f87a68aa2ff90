package fundi

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

func expectGetJob(mock sqlmock.Sqlmock, jobID, status, code string) {
	now := time.Now()
	mock.ExpectQuery("SELECT job_id, request_id, offer_id").
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{
			"job_id", "request_id", "offer_id", "conversation_id", "payment_id",
			"requestor_uuid", "provider_uuid", "price", "tip", "status", "code",
			"review_id", "dispute_id", "cancel_reason", "cancel_reason_category",
			"canceled_at", "created_at", "updated_at",
		}).AddRow(jobID, "rqt1", "off1", "cnv1", "pay1",
			"req1", "prv1", "5000.00", "0", status, code,
			"", "", "", "", nil, now, now))
}

func TestStartJob(t *testing.T) {
	f, mock, events := newTestFundi(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT offer_id, conversation_id, requestor_uuid").
		WithArgs("job1").
		WillReturnRows(sqlmock.NewRows([]string{
			"offer_id", "conversation_id", "requestor_uuid", "provider_uuid",
			"price", "tip", "status", "code", "review_id",
		}).AddRow("off1", "cnv1", "req1", "prv1", "5000.00", "0", model.JobStatusPending, "0420", ""))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(model.JobStatusInProgress, "job1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO job_timelines").
		WithArgs("job1", model.TimelineJobStarted, "req1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	started, err := f.StartJob(context.Background(), "job1", "req1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, started.Status)
	assert.Contains(t, events.names(), model.EventJobUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPin(t *testing.T) {
	f, mock, _ := newTestFundi(t)

	expectGetJob(mock, "job1", model.JobStatusPending, "0420")
	valid, err := f.VerifyPin(context.Background(), "job1", "prv1", "0420")
	require.NoError(t, err)
	assert.True(t, valid)

	expectGetJob(mock, "job1", model.JobStatusPending, "0420")
	valid, err = f.VerifyPin(context.Background(), "job1", "prv1", "9999")
	require.NoError(t, err)
	assert.False(t, valid)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPin_ProviderOnly(t *testing.T) {
	f, mock, _ := newTestFundi(t)

	expectGetJob(mock, "job1", model.JobStatusPending, "0420")

	_, err := f.VerifyPin(context.Background(), "job1", "req1", "0420")
	assert.True(t, apierror.Is(err, apierror.ErrForbidden))
	assert.NoError(t, mock.ExpectationsWereMet())
}
