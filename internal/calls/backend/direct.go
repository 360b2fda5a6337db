package backend

import (
	"context"
	"time"

	"vetline_backend/internal/calls/cache"
	"vetline_backend/internal/calls/domain"
	"vetline_backend/platform/config"
	"vetline_backend/platform/logger"
)

// VoiceClient is the slice of the voice platform client the direct backend needs.
type VoiceClient interface {
	CreateCall(ctx context.Context, call domain.CallRequest) (string, error)
	GetCall(ctx context.Context, callID string) (domain.Outcome, error)
}

// Direct places calls straight on the voice platform and waits for the
// completion webhook, falling back to status polling when the webhook does
// not arrive within the push wait window.
type Direct struct {
	voice      VoiceClient
	placements PlacementRecorder
	results    *cache.ResultCache

	cachePollInterval  time.Duration
	pushWaitWindow     time.Duration
	statusPollInterval time.Duration
	callTimeout        time.Duration

	log *logger.Logger
}

// NewDirect creates the direct execution backend.
func NewDirect(cfg config.VoiceConfig, voice VoiceClient, placements PlacementRecorder, results *cache.ResultCache, log *logger.Logger) *Direct {
	return &Direct{
		voice:              voice,
		placements:         placements,
		results:            results,
		cachePollInterval:  cfg.GetCachePollInterval(),
		pushWaitWindow:     cfg.GetPushWaitWindow(),
		statusPollInterval: cfg.GetStatusPollInterval(),
		callTimeout:        cfg.GetCallTimeout(),
		log:                log,
	}
}

var _ ExecutionBackend = (*Direct)(nil)

func (d *Direct) Kind() domain.BackendKind { return domain.BackendDirect }

// Execute places the call and waits for its terminal outcome. The webhook
// path (observed through the result cache) and the polling path race; the
// first terminal outcome wins and the store absorbs the loser.
func (d *Direct) Execute(ctx context.Context, call domain.CallRequest) (domain.Outcome, error) {
	callID, err := d.voice.CreateCall(ctx, call)
	if err != nil {
		return domain.Outcome{}, err
	}

	if err := d.placements.SetPlacement(ctx, call.AttemptID, domain.BackendDirect, callID); err != nil {
		// The call is already ringing; placement bookkeeping must not abort it.
		d.log.Error("record call placement failed", "attempt_id", call.AttemptID, "error", err)
	}

	return d.await(ctx, callID), nil
}

func (d *Direct) await(ctx context.Context, callID string) domain.Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	cacheTick := time.NewTicker(d.cachePollInterval)
	defer cacheTick.Stop()

	// The poll ticker stays disarmed during the push wait window so a healthy
	// webhook path generates no platform polling traffic at all.
	pollTick := time.NewTicker(d.statusPollInterval)
	pollTick.Stop()
	defer pollTick.Stop()

	pushWindow := time.NewTimer(d.pushWaitWindow)
	defer pushWindow.Stop()

	log := d.log.WithCallID(callID)
	for {
		select {
		case <-ctx.Done():
			log.Warn("call wait expired, forcing timeout outcome")
			return domain.Outcome{Status: domain.CallTimeout, EndedAt: time.Now()}

		case <-cacheTick.C:
			if outcome, ok := d.results.GetTerminal(callID); ok {
				d.results.Delete(callID)
				return outcome
			}

		case <-pushWindow.C:
			log.Info("push wait window elapsed, starting status polling")
			pollTick.Reset(d.statusPollInterval)

		case <-pollTick.C:
			outcome, err := d.voice.GetCall(ctx, callID)
			if err != nil {
				log.Warn("status poll failed", "error", err)
				continue
			}
			if outcome.Status.IsTerminal() {
				return outcome
			}
		}
	}
}
