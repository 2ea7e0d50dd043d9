package fees

import (
	"context"
	"log"
	"time"
)

// JobProcessor runs the background fee charge sweep
type JobProcessor struct {
	service Service
	config  *JobConfig
	done    chan struct{}
}

// JobConfig contains configuration for the fee sweep
type JobConfig struct {
	ChargeInterval time.Duration
	BatchSize      int
}

// DefaultJobConfig returns default job configuration
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		ChargeInterval: 5 * time.Minute, // Drain pending fees every five minutes
		BatchSize:      100,             // Charge 100 fees at a time
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

// Run drives the charge sweep until the context is cancelled or Stop is
// called. It blocks so callers can supervise it in an error group.
func (jp *JobProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(jp.config.ChargeInterval)
	defer ticker.Stop()

	log.Printf("Started fee charge sweep with %v interval", jp.config.ChargeInterval)

	for {
		select {
		case <-ticker.C:
			jp.chargePendingFees(ctx)
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

// chargePendingFees drains one batch of pending fees
func (jp *JobProcessor) chargePendingFees(ctx context.Context) {
	charged, err := jp.service.ChargePending(ctx, jp.config.BatchSize)
	if err != nil {
		log.Printf("Error charging pending fees: %v", err)
		return
	}

	if charged > 0 {
		log.Printf("Charged %d pending late fees", charged)
	}
}
