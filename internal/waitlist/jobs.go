package waitlist

import (
	"context"
	"log"
	"time"
)

// JobProcessor runs the background promotion deadline sweep
type JobProcessor struct {
	engine Engine
	config *JobConfig
	done   chan struct{}
}

// JobConfig contains configuration for the deadline sweep
type JobConfig struct {
	SweepInterval time.Duration
	BatchSize     int
}

// DefaultJobConfig returns default job configuration
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		SweepInterval: 1 * time.Minute, // Check for lapsed offers every minute
		BatchSize:     100,             // Expire 100 offers at a time
	}
}

// NewJobProcessor creates a new job processor
func NewJobProcessor(engine Engine, config *JobConfig) *JobProcessor {
	if config == nil {
		config = DefaultJobConfig()
	}

	return &JobProcessor{
		engine: engine,
		config: config,
		done:   make(chan struct{}),
	}
}

// Run drives the deadline sweep until the context is cancelled or Stop is
// called. It blocks so callers can supervise it in an error group.
func (jp *JobProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(jp.config.SweepInterval)
	defer ticker.Stop()

	log.Printf("Started promotion deadline sweep with %v interval", jp.config.SweepInterval)

	for {
		select {
		case <-ticker.C:
			jp.sweepDuePromotions(ctx)
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

// sweepDuePromotions expires one batch of lapsed offers
func (jp *JobProcessor) sweepDuePromotions(ctx context.Context) {
	expired, err := jp.engine.SweepDuePromotions(ctx, jp.config.BatchSize)
	if err != nil {
		log.Printf("Error sweeping due promotions: %v", err)
		return
	}

	if expired > 0 {
		log.Printf("Expired %d lapsed promotion offers", expired)
	}
}
