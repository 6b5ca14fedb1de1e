package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pdv/internal/service"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const QueueEmission = "jobs:fiscal_emission"

const JobEmission = "fiscal_emission"

// Job is the generic envelope for all async tasks.
type Job struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Handler processes one job payload. A returned error means the job could
// not be handled at all and is re-queued, then dead-lettered.
type Handler interface {
	Process(ctx context.Context, raw json.RawMessage) error
}

// maxJobAttempts bounds re-queues of a job whose handler keeps failing.
const maxJobAttempts = 3

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb      *redis.Client
	kinds    []string
	fallback service.EmissionTrigger
}

// NewDispatcher queues one emission job per enabled kind. When Redis refuses
// the job, fallback (usually inline emission) runs instead so the sale is not
// left without a document.
func NewDispatcher(rdb *redis.Client, kinds []string, fallback service.EmissionTrigger) *Dispatcher {
	return &Dispatcher{rdb: rdb, kinds: kinds, fallback: fallback}
}

var _ service.EmissionTrigger = (*Dispatcher)(nil)

func (d *Dispatcher) SaleFinalized(ctx context.Context, saleID uuid.UUID) {
	for _, kind := range d.kinds {
		err := d.EnqueueEmission(ctx, EmissionJobPayload{SaleID: saleID.String(), Kind: kind})
		if err == nil {
			continue
		}
		log.Error().Err(err).Str("sale_id", saleID.String()).Str("kind", kind).
			Msg("dispatcher: enqueue failed, emitting inline")
		if d.fallback != nil {
			d.fallback.SaleFinalized(ctx, saleID)
		}
		return
	}
}

// EnqueueEmission pushes an emission job to Redis.
func (d *Dispatcher) EnqueueEmission(ctx context.Context, payload EmissionJobPayload) error {
	return d.enqueue(ctx, QueueEmission, Job{Type: JobEmission}, payload)
}

func (d *Dispatcher) enqueue(ctx context.Context, queue string, job Job, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	job.Payload = data
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return d.rdb.LPush(ctx, queue, encoded).Err()
}

// Pool consumes the job queues with a fixed number of goroutines.
type Pool struct {
	rdb      *redis.Client
	handlers map[string]Handler
	queues   []string
	done     chan struct{}
}

func NewPool(rdb *redis.Client, handlers map[string]Handler) *Pool {
	return &Pool{rdb: rdb, handlers: handlers, queues: []string{QueueEmission}, done: make(chan struct{})}
}

// Start launches numWorkers goroutines; each blocks on BRPOP so idle workers
// cost nothing. They exit when ctx is cancelled; Wait blocks until they have.
func (p *Pool) Start(ctx context.Context, numWorkers int) {
	exited := make(chan struct{}, numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(id int) {
			p.run(ctx, id)
			exited <- struct{}{}
		}(i)
	}
	go func() {
		for i := 0; i < numWorkers; i++ {
			<-exited
		}
		close(p.done)
	}()
	log.Info().Msgf("worker pool started with %d workers", numWorkers)
}

func (p *Pool) Wait() { <-p.done }

func (p *Pool) run(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop: waits up to 5s then loops to check ctx
			result, err := p.rdb.BRPop(ctx, 5*time.Second, p.queues...).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					log.Warn().Err(err).Int("worker", id).Msg("worker: dequeue failed")
					time.Sleep(time.Second)
				}
				continue
			}
			if len(result) < 2 {
				continue
			}
			p.process(ctx, result[0], result[1])
		}
	}
}

func (p *Pool) process(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("worker: failed to unmarshal job")
		SendToDLQ(ctx, p.rdb, queue, "unknown", json.RawMessage(fmt.Sprintf("%q", raw)), "malformed job: "+err.Error(), 0)
		return
	}
	h, ok := p.handlers[job.Type]
	if !ok {
		SendToDLQ(ctx, p.rdb, queue, job.Type, job.Payload, "no handler for job type", job.Attempts)
		return
	}

	err := h.Process(ctx, job.Payload)
	if err == nil {
		return
	}
	job.Attempts++
	if job.Attempts >= maxJobAttempts {
		SendToDLQ(ctx, p.rdb, queue, job.Type, job.Payload, err.Error(), job.Attempts)
		return
	}
	log.Warn().Err(err).Str("type", job.Type).Int("attempts", job.Attempts).Msg("worker: job failed, re-queued")
	encoded, merr := json.Marshal(job)
	if merr != nil {
		return
	}
	if err := p.rdb.LPush(ctx, queue, encoded).Err(); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("worker: re-queue failed")
	}
}
