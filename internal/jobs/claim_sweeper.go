// claim_sweeper.go implements the ClaimSweeper background job, which periodically
// expires pending email-challenge claims whose token window has lapsed and grants
// approved claims whose cooling-off period has elapsed. All deadlines are persisted
// wall-clock timestamps evaluated at sweep time, so no state is lost across server
// restarts and running multiple replicas is safe: every candidate is re-checked
// under a row lock by the store before anything changes.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/heirloom-app/heirloom/internal/claims"
	"github.com/heirloom-app/heirloom/internal/telemetry"
)

// SweepService is the slice of the claim service the sweeper needs
type SweepService interface {
	Sweep(ctx context.Context) (claims.SweepResult, error)
}

// ClaimSweeper periodically advances claims whose deadlines have passed.
type ClaimSweeper struct {
	service  SweepService
	interval time.Duration
	stopChan chan struct{}
}

// NewClaimSweeper creates a new ClaimSweeper.
// intervalMinutes controls how often the sweep runs (default 15m).
func NewClaimSweeper(service SweepService, intervalMinutes int) *ClaimSweeper {
	if intervalMinutes <= 0 {
		intervalMinutes = 15
	}
	return &ClaimSweeper{
		service:  service,
		interval: time.Duration(intervalMinutes) * time.Minute,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background sweep loop.
// It runs an initial sweep immediately, then repeats on the configured interval.
// The loop exits when ctx is cancelled or Stop() is called.
func (s *ClaimSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Claim sweeper started (interval: %v)", s.interval)

	// Run once immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopChan:
			log.Println("Claim sweeper stopped")
			return
		case <-ctx.Done():
			log.Println("Claim sweeper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *ClaimSweeper) Stop() {
	close(s.stopChan)
}

func (s *ClaimSweeper) runSweep(ctx context.Context) {
	start := time.Now()
	result, err := s.service.Sweep(ctx)
	telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("Claim sweep failed: %v", err)
		return
	}
	if result.Expired > 0 || result.Granted > 0 {
		log.Printf("Claim sweep: %d challenge(s) expired, %d claim(s) granted", result.Expired, result.Granted)
	}
}
