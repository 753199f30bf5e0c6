package queue

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/pagevoice/pagevoice/internal/config"
)

// SynthesisTaskTimeout is the hard per-attempt limit on a generation task.
// Each attempt also carries its own soft deadline inside the worker; this is
// the backstop asynq enforces.
const SynthesisTaskTimeout = 10 * time.Minute

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueAudioGenerate schedules the synthesis pipeline for a created record.
// Up to 3 retries after the first attempt; backoff comes from RetryDelay.
func (c *Client) EnqueueAudioGenerate(audioID uuid.UUID) error {
	return c.enqueue(TypeAudioGenerate, AudioGeneratePayload{AudioID: audioID.String()},
		asynq.MaxRetry(3), asynq.Timeout(SynthesisTaskTimeout))
}

func (c *Client) enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.Enqueue(task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

// RetryDelay doubles from 60s per attempt (60, 120, 240, ...) with up to 10s
// of jitter so a burst of failures does not retry in lockstep. Wired into
// asynq.Config.RetryDelayFunc by the worker binary.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	base := 60 * time.Second << uint(n)
	return base + time.Duration(rand.Int63n(int64(10*time.Second)))
}
