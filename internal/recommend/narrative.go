package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vetline_backend/internal/floweng"
	"vetline_backend/internal/recommend/llm"
	requestsrepo "vetline_backend/internal/requests/repository"
	"vetline_backend/platform/logger"
)

// Narrator produces the free-text summary for a ranked list. Implementations
// must not alter scores or order.
type Narrator interface {
	Summarize(ctx context.Context, req requestsrepo.ServiceRequest, ranked Ranked) (string, error)
}

// ---------------------------------------------------------------------------
// Orchestrated path: the workflow engine's scoring flow writes the narrative.
// ---------------------------------------------------------------------------

// FlowScoringClient is the slice of the workflow engine client the
// orchestrated narrative path needs.
type FlowScoringClient interface {
	Healthy(ctx context.Context) bool
	StartExecution(ctx context.Context, flow string, input interface{}) (string, error)
	GetExecution(ctx context.Context, executionID string) (floweng.Execution, error)
}

// FlowNarrator asks the workflow engine's scoring flow for the summary text.
type FlowNarrator struct {
	flow         FlowScoringClient
	flowName     string
	pollInterval time.Duration
}

// NewFlowNarrator creates the orchestrated narrative path.
func NewFlowNarrator(flow FlowScoringClient, flowName string, pollInterval time.Duration) *FlowNarrator {
	return &FlowNarrator{flow: flow, flowName: flowName, pollInterval: pollInterval}
}

type flowScoringInput struct {
	Need    string  `json:"need"`
	Urgency string  `json:"urgency"`
	Ranked  []Entry `json:"ranked"`
}

type flowScoringOutput struct {
	Summary string `json:"summary"`
}

// Summarize runs the scoring flow and waits for its summary.
func (n *FlowNarrator) Summarize(ctx context.Context, req requestsrepo.ServiceRequest, ranked Ranked) (string, error) {
	execID, err := n.flow.StartExecution(ctx, n.flowName, flowScoringInput{
		Need:    req.Description,
		Urgency: req.Urgency,
		Ranked:  ranked.Entries,
	})
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			exec, err := n.flow.GetExecution(ctx, execID)
			if err != nil {
				return "", err
			}
			if !exec.State.Finished() {
				continue
			}
			if exec.State != floweng.ExecutionSucceeded {
				return "", fmt.Errorf("scoring flow %s: %s", exec.State, exec.Error)
			}
			var out flowScoringOutput
			if err := json.Unmarshal(exec.Output, &out); err != nil {
				return "", fmt.Errorf("scoring flow output: %w", err)
			}
			if strings.TrimSpace(out.Summary) == "" {
				return "", fmt.Errorf("scoring flow returned no summary")
			}
			return strings.TrimSpace(out.Summary), nil
		}
	}
}

// ---------------------------------------------------------------------------
// Direct path: a text-completion call writes the narrative.
// ---------------------------------------------------------------------------

// LLMNarrator adapts the llm generator to the Narrator interface.
type LLMNarrator struct {
	gen *llm.Generator
}

// NewLLMNarrator creates the direct narrative path.
func NewLLMNarrator(gen *llm.Generator) *LLMNarrator {
	return &LLMNarrator{gen: gen}
}

func (n *LLMNarrator) Summarize(ctx context.Context, req requestsrepo.ServiceRequest, ranked Ranked) (string, error) {
	input := llm.RankedInput{Need: req.Description, Urgency: req.Urgency}
	for _, e := range ranked.Entries {
		input.Entries = append(input.Entries, llm.RankedEntry{
			Rank:      e.Rank,
			Name:      e.Name,
			Score:     e.Score,
			Reasoning: e.Reasoning,
		})
	}
	return n.gen.Summarize(ctx, input)
}

// ---------------------------------------------------------------------------
// Routing narrator: orchestrated when healthy, direct otherwise.
// ---------------------------------------------------------------------------

// RoutingNarrator mirrors the call backend routing for narrative generation:
// the orchestrated path is preferred while its health probe passes, the
// direct path covers the rest, and only both failing is an error.
type RoutingNarrator struct {
	orchestrated Narrator
	prober       interface{ Healthy(ctx context.Context) bool }
	direct       Narrator
	enabled      bool
	log          *logger.Logger
}

// NewRoutingNarrator creates the fallback composition. Either path may be nil
// when not configured.
func NewRoutingNarrator(orchestrated Narrator, prober interface{ Healthy(ctx context.Context) bool }, direct Narrator, enabled bool, log *logger.Logger) *RoutingNarrator {
	return &RoutingNarrator{
		orchestrated: orchestrated,
		prober:       prober,
		direct:       direct,
		enabled:      enabled,
		log:          log,
	}
}

func (n *RoutingNarrator) Summarize(ctx context.Context, req requestsrepo.ServiceRequest, ranked Ranked) (string, error) {
	if n.enabled && n.orchestrated != nil && n.prober != nil && n.prober.Healthy(ctx) {
		summary, err := n.orchestrated.Summarize(ctx, req, ranked)
		if err == nil {
			return summary, nil
		}
		n.log.Warn("orchestrated narrative failed, falling back to direct path",
			"service_request_id", req.ID, "error", err)
	}

	if n.direct == nil {
		return "", fmt.Errorf("no narrative path available")
	}
	return n.direct.Summarize(ctx, req, ranked)
}
