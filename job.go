/*
Copyright 2024 Fundi Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fundi

import (
	"context"
	"crypto/subtle"

	"github.com/shopspring/decimal"

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

// StartJob moves a pending job to in_progress. Only the requestor starts the
// job; the provider checks the confirmation code on site via VerifyPin first.
func (f *Fundi) StartJob(ctx context.Context, jobID, actorUUID string) (*model.Job, error) {
	started, err := f.datasource.StartJob(ctx, jobID, actorUUID)
	if err != nil {
		return nil, err
	}

	f.publishJobUpdate(ctx, started, actorUUID, true)
	return started, nil
}

// VerifyPin compares a provider-supplied code against the job's confirmation
// code. Purely a read; the requestor reads the code to the provider in person
// before any work begins.
func (f *Fundi) VerifyPin(ctx context.Context, jobID, actorUUID, code string) (bool, error) {
	job, err := f.datasource.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if actorUUID != job.ProviderUUID {
		return false, apierror.NewAPIError(apierror.ErrForbidden, "Only the provider can verify the code", actorUUID)
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(job.Code)) == 1, nil
}

// CompleteJob settles the job: the provider earns the price as a locked
// credit that matures into spendable balance after the settlement window.
func (f *Fundi) CompleteJob(ctx context.Context, jobID, actorUUID string) (*model.Job, error) {
	job, err := f.datasource.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	providerWallet, err := f.GetWallet(ctx, job.ProviderUUID, model.UserTypeProvider)
	if err != nil {
		return nil, err
	}

	completed, _, err := f.datasource.CompleteJob(ctx, jobID, actorUUID, providerWallet.WalletID)
	if err != nil {
		return nil, err
	}

	f.publishJobUpdate(ctx, completed, actorUUID, true)
	return completed, nil
}

// CancelJob refunds the requestor, burns a cancellation chance and restricts
// the conversation.
func (f *Fundi) CancelJob(ctx context.Context, jobID, actorUUID, reason, category string) (*model.Job, error) {
	job, err := f.datasource.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	requestorWallet, err := f.GetWallet(ctx, job.RequestorUUID, model.UserTypeRequestor)
	if err != nil {
		return nil, err
	}

	canceled, _, err := f.datasource.CancelJob(ctx, jobID, actorUUID, requestorWallet.WalletID, reason, category)
	if err != nil {
		return nil, err
	}

	f.publishJobUpdate(ctx, canceled, actorUUID, true)
	return canceled, nil
}

// DisputeJob freezes an in_progress job pending manual resolution.
func (f *Fundi) DisputeJob(ctx context.Context, jobID, actorUUID, reason string) (*model.Job, error) {
	disputed, _, err := f.datasource.DisputeJob(ctx, jobID, actorUUID, reason)
	if err != nil {
		return nil, err
	}

	f.publishJobUpdate(ctx, disputed, actorUUID, true)
	return disputed, nil
}

// ReviewJob records the requestor's rating of a completed job with an
// optional tip paid from available balance.
func (f *Fundi) ReviewJob(ctx context.Context, jobID, actorUUID string, rating int, comment string, tip decimal.Decimal) (*model.JobReview, error) {
	job, err := f.datasource.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	requestorWallet, err := f.GetWallet(ctx, job.RequestorUUID, model.UserTypeRequestor)
	if err != nil {
		return nil, err
	}
	providerWallet, err := f.GetWallet(ctx, job.ProviderUUID, model.UserTypeProvider)
	if err != nil {
		return nil, err
	}

	reviewed, review, err := f.datasource.AttachReview(ctx, jobID, actorUUID, rating, comment, tip,
		requestorWallet.WalletID, providerWallet.WalletID)
	if err != nil {
		return nil, err
	}

	f.publishJobUpdate(ctx, reviewed, actorUUID, tip.IsPositive())
	return review, nil
}

// ReportJob records a provider's report of a problematic job.
func (f *Fundi) ReportJob(ctx context.Context, jobID, actorUUID, reason string) (*model.JobReport, error) {
	job, err := f.datasource.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if actorUUID != job.ProviderUUID && actorUUID != job.RequestorUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Not a job participant", actorUUID)
	}

	return f.datasource.CreateJobReport(ctx, &model.JobReport{
		JobID:        jobID,
		ReporterUUID: actorUUID,
		Reason:       reason,
	})
}

// GetJob returns a job with its code stripped for non-requestors. The
// confirmation code is shown only to the requestor, who reads it to the
// provider on site.
func (f *Fundi) GetJob(ctx context.Context, jobID, actorUUID string) (*model.Job, error) {
	job, err := f.datasource.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if actorUUID != job.RequestorUUID && actorUUID != job.ProviderUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Not a job participant", actorUUID)
	}
	if actorUUID != job.RequestorUUID {
		job.Code = ""
	}
	return job, nil
}

// GetJobTimeline returns the job's audit trail.
func (f *Fundi) GetJobTimeline(ctx context.Context, jobID, actorUUID string) ([]model.JobTimeline, error) {
	job, err := f.datasource.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if actorUUID != job.RequestorUUID && actorUUID != job.ProviderUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Not a job participant", actorUUID)
	}
	return f.datasource.GetJobTimeline(ctx, jobID)
}

func (f *Fundi) publishJobUpdate(ctx context.Context, job *model.Job, actorUUID string, push bool) {
	sanitized := *job
	sanitized.Code = ""

	event := model.NewEvent(model.EventJobUpdated, &sanitized)
	event.ConversationUUID = job.ConversationID
	event.UserUUIDs = []string{job.RequestorUUID, job.ProviderUUID}
	event.ExcludeUUID = actorUUID
	event.Push = push
	f.publish(ctx, event)
}
