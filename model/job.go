package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusDisputed   = "disputed"
	JobStatusCanceled   = "canceled"
)

// Timeline event names. The timeline is the audit source of truth for what
// happened to a job and when; it is never reconstructed from current state.
const (
	TimelineJobCreated    = "job.created"
	TimelineJobStarted    = "job.started"
	TimelineJobCompleted  = "job.completed"
	TimelineJobCanceled   = "job.canceled"
	TimelineJobDisputed   = "job.disputed"
	TimelineJobRated      = "job.rated"
	TimelineJobTipped     = "job.tipped"
)

// Job is the unit of work created when an offer is paid for. Price is copied
// from the originating offer at creation and never mutated; later money
// movement is recorded as separate transactions.
type Job struct {
	ID                   int64           `json:"-"`
	JobID                string          `json:"job_id"`
	RequestID            string          `json:"request_id"`
	OfferID              string          `json:"offer_id"`
	ConversationID       string          `json:"conversation_id"`
	PaymentID            string          `json:"payment_id"`
	RequestorUUID        string          `json:"requestor_uuid"`
	ProviderUUID         string          `json:"provider_uuid"`
	Price                decimal.Decimal `json:"price"`
	Tip                  decimal.Decimal `json:"tip"`
	Status               string          `json:"status"`
	Code                 string          `json:"-"`
	ReviewID             string          `json:"review_id,omitempty"`
	DisputeID            string          `json:"dispute_id,omitempty"`
	CancelReason         string          `json:"cancel_reason,omitempty"`
	CancelReasonCategory string          `json:"cancel_reason_category,omitempty"`
	CanceledAt           *time.Time      `json:"canceled_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusCanceled
}

// JobTimeline is an append-only audit row written in the same atomic unit as
// the transition it records.
type JobTimeline struct {
	ID        int64     `json:"-"`
	JobID     string    `json:"job_id"`
	Event     string    `json:"event"`
	ActorUUID string    `json:"actor_uuid"`
	CreatedAt time.Time `json:"created_at"`
}

// JobDispute is opened when a requestor disputes an in-progress job. The job
// moves to disputed, funds stay held, and resolution happens out of band.
type JobDispute struct {
	ID           int64     `json:"-"`
	DisputeID    string    `json:"dispute_id"`
	JobID        string    `json:"job_id"`
	RaisedByUUID string    `json:"raised_by_uuid"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

type JobReview struct {
	ID        int64           `json:"-"`
	ReviewID  string          `json:"review_id"`
	JobID     string          `json:"job_id"`
	RaterUUID string          `json:"rater_uuid"`
	Rating    int             `json:"rating"`
	Comment   string          `json:"comment,omitempty"`
	Tip       decimal.Decimal `json:"tip"`
	CreatedAt time.Time       `json:"created_at"`
}

type JobReport struct {
	ID           int64     `json:"-"`
	ReportID     string    `json:"report_id"`
	JobID        string    `json:"job_id"`
	ReporterUUID string    `json:"reporter_uuid"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}
