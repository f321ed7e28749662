// Package workflows runs preprocessing as a durable Temporal workflow so a
// ticket picked up by the watcher survives process restarts and is retried
// on transient source failures.
package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/preprocess"
)

// ErrTypeNoTicket marks activity failures that retrying cannot fix.
const ErrTypeNoTicket = "NoTicket"

const (
	activityTimeout     = 10 * time.Minute
	retryInitial        = 10 * time.Second
	retryMaxAttempts    = 3
	retryBackoffFactor  = 2.0
	workflowIDPrefix    = "preprocess-"
	processActivityName = "ProcessTask"
)

// Processor builds and stores context for one task.
type Processor interface {
	Process(ctx context.Context, taskID string) (*model.SynthesizedResult, error)
}

// PreprocessInput is the workflow argument.
type PreprocessInput struct {
	TaskID string `json:"task_id"`
}

// WorkflowID returns the workflow id used for taskID. One id per task lets
// Temporal collapse concurrent requests for the same ticket.
func WorkflowID(taskID string) string {
	return workflowIDPrefix + taskID
}

// PreprocessWorkflow runs the preprocessing pipeline for one task.
//
// Missing tickets and a missing ticket source fail immediately; any other
// error is retried with exponential backoff.
func PreprocessWorkflow(ctx workflow.Context, in PreprocessInput) (*model.SynthesizedResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting preprocessing", "task_id", in.TaskID)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        retryInitial,
			BackoffCoefficient:     retryBackoffFactor,
			MaximumAttempts:        retryMaxAttempts,
			NonRetryableErrorTypes: []string{ErrTypeNoTicket},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var res model.SynthesizedResult
	if err := workflow.ExecuteActivity(ctx, processActivityName, in.TaskID).Get(ctx, &res); err != nil {
		logger.Error("Preprocessing failed", "task_id", in.TaskID, "error", err)
		return nil, err
	}

	logger.Info("Preprocessing complete",
		"task_id", in.TaskID,
		"quality_score", res.QualityScore,
		"gaps", len(res.Gaps))
	return &res, nil
}

// Activities exposes the pipeline to Temporal workers.
type Activities struct {
	Pipeline Processor
}

// ProcessTask runs the pipeline once. Errors that a retry cannot fix are
// returned as non-retryable application errors.
func (a *Activities) ProcessTask(ctx context.Context, taskID string) (*model.SynthesizedResult, error) {
	res, err := a.Pipeline.Process(ctx, taskID)
	if err != nil {
		if errors.Is(err, preprocess.ErrTicketNotFound) || errors.Is(err, preprocess.ErrNoTicketSource) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNoTicket, err)
		}
		return nil, err
	}
	return res, nil
}
