package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const importQueueKey = "catalog:import:queue"

// JobQueue distributes import job ids to workers through a Redis list.
// Enqueue pushes to the head, workers block-pop from the tail, so jobs run
// in submission order and each id is claimed by exactly one worker.
type JobQueue struct {
	client *redis.Client
	logger *logrus.Entry
}

func NewJobQueue(client *redis.Client, logger *logrus.Logger) *JobQueue {
	return &JobQueue{
		client: client,
		logger: logger.WithField("component", "import-queue"),
	}
}

// Enqueue hands a job id to the worker pool.
func (q *JobQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.client.LPush(ctx, importQueueKey, jobID).Err()
}

// Dequeue blocks up to one second waiting for the next job id. An empty
// string with a nil error means the wait timed out and the caller should
// poll again.
func (q *JobQueue) Dequeue(ctx context.Context) (string, error) {
	result, err := q.client.BRPop(ctx, time.Second, importQueueKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// BRPOP returns [key, value]
	return result[1], nil
}

// Runner executes one claimed job to completion.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// WorkerPool runs a fixed set of goroutines that drain the job queue.
type WorkerPool struct {
	queue   *JobQueue
	runner  Runner
	workers int
	logger  *logrus.Entry
	wg      sync.WaitGroup
}

func NewWorkerPool(queue *JobQueue, runner Runner, workers int, logger *logrus.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 2
	}
	return &WorkerPool{
		queue:   queue,
		runner:  runner,
		workers: workers,
		logger:  logger.WithField("component", "import-workers"),
	}
}

// Start launches the workers. They exit when ctx is cancelled; any job
// already claimed runs to completion against a detached context so an
// in-flight import is not left half-checkpointed mid-row.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.logger.WithField("workers", p.workers).Info("Import workers started")
}

// Wait blocks until every worker has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.WithField("worker", id)

	for {
		select {
		case <-ctx.Done():
			log.Info("Import worker stopping")
			return
		default:
		}

		jobID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Import worker stopping")
				return
			}
			log.WithError(err).Warn("Failed to poll import queue")
			sleepWithContext(ctx, 2*time.Second)
			continue
		}
		if jobID == "" {
			continue
		}

		log.WithField("jobID", jobID).Info("Claimed import job")
		if err := p.runner.Run(context.Background(), jobID); err != nil {
			log.WithField("jobID", jobID).WithError(err).Error("Import job finished with error")
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
