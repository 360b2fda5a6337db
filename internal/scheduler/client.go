package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"

	"vetline_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client enqueues orchestration work onto the asynq queue. It satisfies the
// task enqueuer interfaces of the calls and recommend services.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueBatchDispatch queues the outbound call batch for a request.
func (c *Client) EnqueueBatchDispatch(ctx context.Context, requestID uuid.UUID) error {
	task, err := NewBatchDispatchTask(BatchDispatchPayload{RequestID: requestID.String()})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// EnqueueAnalyze queues the scoring and recommendation run for a request.
func (c *Client) EnqueueAnalyze(ctx context.Context, requestID uuid.UUID) error {
	task, err := NewAnalyzeRequestTask(AnalyzeRequestPayload{RequestID: requestID.String()})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// EnqueueBookingDispatch queues the booking call against the selected provider.
func (c *Client) EnqueueBookingDispatch(ctx context.Context, requestID, candidateID uuid.UUID) error {
	task, err := NewBookingDispatchTask(BookingDispatchPayload{
		RequestID:   requestID.String(),
		CandidateID: candidateID.String(),
	})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) error {
	if c == nil || c.client == nil {
		return nil
	}
	_, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue))
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
