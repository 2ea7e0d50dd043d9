package attendance

import (
	"context"
	"log"
	"time"
)

// JobProcessor runs the background class completion sweep
type JobProcessor struct {
	service Service
	config  *JobConfig
	done    chan struct{}
}

// JobConfig contains configuration for the completion sweep
type JobConfig struct {
	SweepInterval time.Duration
	BatchSize     int
}

// DefaultJobConfig returns default job configuration
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		SweepInterval: 5 * time.Minute, // Classes end on schedule; no need to race
		BatchSize:     50,
	}
}

// NewJobProcessor creates a new job processor
func NewJobProcessor(service Service, config *JobConfig) *JobProcessor {
	if config == nil {
		config = DefaultJobConfig()
	}

	return &JobProcessor{
		service: service,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Run drives the completion sweep until the context is cancelled or Stop is
// called. It blocks so callers can supervise it in an error group.
func (jp *JobProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(jp.config.SweepInterval)
	defer ticker.Stop()

	log.Printf("Started class completion sweep with %v interval", jp.config.SweepInterval)

	for {
		select {
		case <-ticker.C:
			jp.sweepCompleted(ctx)
		case <-jp.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop stops the background sweep
func (jp *JobProcessor) Stop() {
	close(jp.done)
}

// sweepCompleted finalizes one batch of ended classes
func (jp *JobProcessor) sweepCompleted(ctx context.Context) {
	completed, err := jp.service.SweepCompletedInstances(ctx, jp.config.BatchSize)
	if err != nil {
		log.Printf("Error sweeping completed instances: %v", err)
		return
	}

	if completed > 0 {
		log.Printf("Finalized %d completed class instances", completed)
	}
}
