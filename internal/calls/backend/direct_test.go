package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"vetline_backend/internal/calls/cache"
	"vetline_backend/internal/calls/domain"
	"vetline_backend/platform/logger"
)

type voiceStubConfig struct {
	cachePoll   time.Duration
	pushWindow  time.Duration
	statusPoll  time.Duration
	callTimeout time.Duration
}

func (c voiceStubConfig) GetVoiceAPIURL() string               { return "http://voice.test" }
func (c voiceStubConfig) GetVoiceAPIKey() string               { return "key" }
func (c voiceStubConfig) GetVoiceAgentID() string              { return "agent" }
func (c voiceStubConfig) GetVoiceWebhookURL() string           { return "http://api.test/webhook" }
func (c voiceStubConfig) GetVoiceWebhookKey() string           { return "hook" }
func (c voiceStubConfig) GetCachePollInterval() time.Duration  { return c.cachePoll }
func (c voiceStubConfig) GetPushWaitWindow() time.Duration     { return c.pushWindow }
func (c voiceStubConfig) GetStatusPollInterval() time.Duration { return c.statusPoll }
func (c voiceStubConfig) GetCallTimeout() time.Duration        { return c.callTimeout }

type stubVoice struct {
	mu        sync.Mutex
	createErr error
	callID    string
	polls     int
	pollAfter int
	terminal  domain.Outcome
}

func (s *stubVoice) CreateCall(ctx context.Context, call domain.CallRequest) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.callID, nil
}

func (s *stubVoice) GetCall(ctx context.Context, callID string) (domain.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.polls >= s.pollAfter {
		return s.terminal, nil
	}
	return domain.Outcome{Status: domain.CallInProgress}, nil
}

func (s *stubVoice) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

type stubPlacements struct {
	mu       sync.Mutex
	attempts []uuid.UUID
	backends []domain.BackendKind
	callIDs  []string
	err      error
}

func (s *stubPlacements) SetPlacement(ctx context.Context, attemptID uuid.UUID, backend domain.BackendKind, platformCallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attemptID)
	s.backends = append(s.backends, backend)
	s.callIDs = append(s.callIDs, platformCallID)
	return s.err
}

func TestDirectReturnsWebhookOutcomeFromCache(t *testing.T) {
	results := cache.NewWithTTL(time.Minute, time.Minute)
	defer results.Close()

	voice := &stubVoice{callID: "call-1", pollAfter: 1000}
	placements := &stubPlacements{}
	d := NewDirect(voiceStubConfig{
		cachePoll:   2 * time.Millisecond,
		pushWindow:  time.Hour,
		statusPoll:  time.Hour,
		callTimeout: time.Second,
	}, voice, placements, results, logger.New("development"))

	attemptID := uuid.New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		results.Set("call-1", domain.Outcome{Status: domain.CallCompleted, Transcript: "hi"})
	}()

	outcome, err := d.Execute(context.Background(), domain.CallRequest{AttemptID: attemptID, Phone: "+15551234567"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Status != domain.CallCompleted || outcome.Transcript != "hi" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if voice.pollCount() != 0 {
		t.Fatalf("webhook path must not poll the platform, polled %d times", voice.pollCount())
	}
	if len(placements.callIDs) != 1 || placements.callIDs[0] != "call-1" {
		t.Fatalf("placement not recorded: %+v", placements.callIDs)
	}
	if placements.backends[0] != domain.BackendDirect {
		t.Fatalf("expected direct backend recorded, got %s", placements.backends[0])
	}
	if _, ok := results.Get("call-1"); ok {
		t.Fatal("consumed cache entry should be deleted")
	}
}

func TestDirectFallsBackToPollingAfterPushWindow(t *testing.T) {
	results := cache.NewWithTTL(time.Minute, time.Minute)
	defer results.Close()

	voice := &stubVoice{
		callID:    "call-2",
		pollAfter: 3,
		terminal:  domain.Outcome{Status: domain.CallNoAnswer},
	}
	d := NewDirect(voiceStubConfig{
		cachePoll:   time.Hour,
		pushWindow:  5 * time.Millisecond,
		statusPoll:  2 * time.Millisecond,
		callTimeout: time.Second,
	}, voice, &stubPlacements{}, results, logger.New("development"))

	outcome, err := d.Execute(context.Background(), domain.CallRequest{AttemptID: uuid.New()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Status != domain.CallNoAnswer {
		t.Fatalf("expected no_answer from polling, got %s", outcome.Status)
	}
	if voice.pollCount() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", voice.pollCount())
	}
}

func TestDirectTimesOutWithTimeoutOutcome(t *testing.T) {
	results := cache.NewWithTTL(time.Minute, time.Minute)
	defer results.Close()

	voice := &stubVoice{callID: "call-3", pollAfter: 1000}
	d := NewDirect(voiceStubConfig{
		cachePoll:   time.Hour,
		pushWindow:  time.Hour,
		statusPoll:  time.Hour,
		callTimeout: 20 * time.Millisecond,
	}, voice, &stubPlacements{}, results, logger.New("development"))

	outcome, err := d.Execute(context.Background(), domain.CallRequest{AttemptID: uuid.New()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Status != domain.CallTimeout {
		t.Fatalf("expected timeout outcome, got %s", outcome.Status)
	}
	if outcome.EndedAt.IsZero() {
		t.Fatal("timeout outcome must carry an ended_at")
	}
}

func TestDirectSurfacesPlacementError(t *testing.T) {
	voice := &stubVoice{createErr: errors.New("platform down")}
	d := NewDirect(voiceStubConfig{
		cachePoll:   time.Millisecond,
		pushWindow:  time.Hour,
		statusPoll:  time.Hour,
		callTimeout: time.Second,
	}, voice, &stubPlacements{}, cache.NewWithTTL(time.Minute, time.Minute), logger.New("development"))

	if _, err := d.Execute(context.Background(), domain.CallRequest{AttemptID: uuid.New()}); err == nil {
		t.Fatal("expected error when the call cannot be placed")
	}
}
