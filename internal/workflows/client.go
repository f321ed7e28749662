package workflows

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/model"
	"github.com/fyrsmithlabs/devscontext/internal/preprocess"
)

// Dial connects to the Temporal frontend in cfg. Temporal's own logs go
// through zl so nothing is written to stdout.
func Dial(cfg config.WorkflowsConfig, zl *zap.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(zl),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// NewWorker registers the preprocessing workflow and activity on taskQueue.
func NewWorker(c client.Client, taskQueue string, p Processor) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(PreprocessWorkflow)
	w.RegisterActivityWithOptions((&Activities{Pipeline: p}).ProcessTask, activity.RegisterOptions{Name: processActivityName})
	return w
}

// Dispatcher runs preprocessing through Temporal instead of in-process.
// It satisfies the watcher's Processor interface.
type Dispatcher struct {
	client    client.Client
	taskQueue string
}

// NewDispatcher returns a dispatcher that starts workflows on taskQueue.
func NewDispatcher(c client.Client, taskQueue string) *Dispatcher {
	return &Dispatcher{client: c, taskQueue: taskQueue}
}

// Process starts (or joins a running) workflow for taskID and waits for
// its result. A missing ticket is reported as preprocess.ErrTicketNotFound.
func (d *Dispatcher) Process(ctx context.Context, taskID string) (*model.SynthesizedResult, error) {
	opts := client.StartWorkflowOptions{
		ID:                       WorkflowID(taskID),
		TaskQueue:                d.taskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}
	run, err := d.client.ExecuteWorkflow(ctx, opts, PreprocessWorkflow, PreprocessInput{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("starting workflow for %s: %w", taskID, err)
	}

	var res model.SynthesizedResult
	if err := run.Get(ctx, &res); err != nil {
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == ErrTypeNoTicket {
			return nil, fmt.Errorf("%w: %s", preprocess.ErrTicketNotFound, taskID)
		}
		return nil, fmt.Errorf("workflow %s: %w", run.GetID(), err)
	}
	return &res, nil
}
