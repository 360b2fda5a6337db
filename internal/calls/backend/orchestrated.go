package backend

import (
	"context"
	"encoding/json"
	"time"

	"vetline_backend/internal/calls/domain"
	"vetline_backend/internal/floweng"
	"vetline_backend/internal/voice"
	"vetline_backend/platform/config"
	"vetline_backend/platform/logger"
)

// FlowClient is the slice of the workflow engine client the orchestrated
// backend needs.
type FlowClient interface {
	StartExecution(ctx context.Context, flow string, input interface{}) (string, error)
	GetExecution(ctx context.Context, executionID string) (floweng.Execution, error)
	CancelExecution(ctx context.Context, executionID string) error
}

// Orchestrated delegates a call to the external workflow engine. The engine
// owns placement, retries and the conversation; this backend only polls the
// execution until it finishes and translates the output.
type Orchestrated struct {
	flow       FlowClient
	placements PlacementRecorder

	callFlowName string
	pollInterval time.Duration
	callTimeout  time.Duration

	log *logger.Logger
}

// NewOrchestrated creates the workflow-engine execution backend.
func NewOrchestrated(flowCfg config.FlowEngineConfig, voiceCfg config.VoiceConfig, flow FlowClient, placements PlacementRecorder, log *logger.Logger) *Orchestrated {
	return &Orchestrated{
		flow:         flow,
		placements:   placements,
		callFlowName: flowCfg.GetCallFlowName(),
		pollInterval: flowCfg.GetFlowEnginePollInterval(),
		callTimeout:  voiceCfg.GetCallTimeout(),
		log:          log,
	}
}

var _ ExecutionBackend = (*Orchestrated)(nil)

func (o *Orchestrated) Kind() domain.BackendKind { return domain.BackendOrchestrated }

// flowCallInput is the document handed to the call workflow.
type flowCallInput struct {
	Metadata     domain.CorrelationToken `json:"metadata"`
	Phase        string                  `json:"phase"`
	Phone        string                  `json:"phone"`
	ProviderName string                  `json:"providerName"`
	Need         string                  `json:"need"`
	Criteria     []string                `json:"criteria,omitempty"`
	Urgency      string                  `json:"urgency,omitempty"`
	Address      string                  `json:"address,omitempty"`
	ScheduledFor string                  `json:"scheduledFor,omitempty"`
}

// flowCallResult is the output document a finished call workflow produces.
// It mirrors the voice platform's webhook payload.
type flowCallResult struct {
	Status          string                    `json:"status"`
	Transcript      string                    `json:"transcript,omitempty"`
	Analysis        *domain.StructuredOutcome `json:"analysis,omitempty"`
	CostCents       int64                     `json:"costCents,omitempty"`
	DurationSeconds int                       `json:"durationSeconds,omitempty"`
	EndedAt         *time.Time                `json:"endedAt,omitempty"`
}

// Execute starts the call workflow and polls until it finishes or the call
// timeout expires. Executions still running at the timeout are canceled.
func (o *Orchestrated) Execute(ctx context.Context, call domain.CallRequest) (domain.Outcome, error) {
	input := flowCallInput{
		Metadata: domain.CorrelationToken{
			RequestID:   call.RequestID,
			CandidateID: call.CandidateID,
			AttemptID:   call.AttemptID,
		},
		Phase:        string(call.Phase),
		Phone:        call.Phone,
		ProviderName: call.Provider,
		Need:         call.Need,
		Criteria:     call.Criteria,
		Urgency:      call.Urgency,
		Address:      call.Address,
		ScheduledFor: call.ScheduledFor,
	}

	execID, err := o.flow.StartExecution(ctx, o.callFlowName, input)
	if err != nil {
		return domain.Outcome{}, err
	}

	if err := o.placements.SetPlacement(ctx, call.AttemptID, domain.BackendOrchestrated, execID); err != nil {
		o.log.Error("record call placement failed", "attempt_id", call.AttemptID, "error", err)
	}

	return o.await(ctx, execID), nil
}

func (o *Orchestrated) await(ctx context.Context, execID string) domain.Outcome {
	waitCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	log := &logger.Logger{Logger: o.log.With("execution_id", execID)}
	for {
		select {
		case <-waitCtx.Done():
			// Cancel with a fresh context; waitCtx is already dead.
			cancelCtx, cancelDone := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := o.flow.CancelExecution(cancelCtx, execID); err != nil {
				log.Warn("cancel workflow execution failed", "error", err)
			}
			cancelDone()
			return domain.Outcome{Status: domain.CallTimeout, EndedAt: time.Now()}

		case <-ticker.C:
			exec, err := o.flow.GetExecution(waitCtx, execID)
			if err != nil {
				log.Warn("execution poll failed", "error", err)
				continue
			}
			if !exec.State.Finished() {
				continue
			}
			return o.translate(exec, log)
		}
	}
}

// translate maps a finished execution onto a call outcome. A workflow that
// failed or produced an unreadable output counts as a failed call; the
// attempt must still reach a terminal status.
func (o *Orchestrated) translate(exec floweng.Execution, log *logger.Logger) domain.Outcome {
	if exec.State != floweng.ExecutionSucceeded {
		log.Warn("workflow execution did not succeed", "state", exec.State, "error", exec.Error)
		return domain.Outcome{Status: domain.CallFailed, EndedAt: time.Now()}
	}

	var result flowCallResult
	if err := json.Unmarshal(exec.Output, &result); err != nil {
		log.Error("workflow output unreadable", "error", err)
		return domain.Outcome{Status: domain.CallFailed, EndedAt: time.Now()}
	}

	status := voice.MapStatus(result.Status)
	if !status.IsTerminal() {
		// A succeeded execution with a non-terminal status is a flow bug.
		log.Warn("workflow reported non-terminal status", "status", result.Status)
		status = domain.CallFailed
	}

	outcome := domain.Outcome{
		Status:          status,
		Transcript:      result.Transcript,
		Structured:      result.Analysis,
		CostCents:       result.CostCents,
		DurationSeconds: result.DurationSeconds,
	}
	if result.EndedAt != nil {
		outcome.EndedAt = *result.EndedAt
	} else {
		outcome.EndedAt = time.Now()
	}
	return outcome
}
