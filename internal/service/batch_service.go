package service

import (
	"context"
	"sync"
	"time"

	"ledgermatch/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	bidirectionalBatchSize = 10
	inboxBatchSize         = 5
	forwardSweepLimit      = 50
	smartMatchLimit        = 100

	recalibrationTimeout = 30 * time.Second
)

// MatchRunStats aggregates the outcomes of one batch run. One item's failure
// is counted, logged and never aborts the rest of the batch.
type MatchRunStats struct {
	Processed   int `json:"processed"`
	AutoMatched int `json:"auto_matched"`
	Suggestions int `json:"suggestions"`
	NoMatches   int `json:"no_matches"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

type matchProcessor interface {
	ProcessInboxMatching(ctx context.Context, tenantID, inboxItemID uuid.UUID) (*ProcessResult, error)
	ProcessTransactionMatching(ctx context.Context, tenantID, transactionID uuid.UUID) (*ProcessResult, error)
}

type calibrationUpdater interface {
	UpdateCalibration(ctx context.Context, tenantID uuid.UUID) (*models.TenantCalibration, error)
}

// BatchCoordinator fans matching work out over bounded worker pools and
// triggers recalibration after each run.
type BatchCoordinator struct {
	matcher     matchProcessor
	inbox       inboxStore
	calibration calibrationUpdater
	logger      *zap.Logger
}

func NewBatchCoordinator(matcher matchProcessor, inbox inboxStore, calibration calibrationUpdater, logger *zap.Logger) *BatchCoordinator {
	return &BatchCoordinator{
		matcher:     matcher,
		inbox:       inbox,
		calibration: calibration,
		logger:      logger,
	}
}

type processFunc func(ctx context.Context, tenantID, id uuid.UUID) (*ProcessResult, error)

// runBatch processes ids on a bounded pool of workers, collecting stats under
// a mutex. A panic while processing one id is recovered and counted as that
// id's error.
func (c *BatchCoordinator) runBatch(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, workers int, process processFunc) (MatchRunStats, []uuid.UUID) {
	var (
		stats   MatchRunStats
		touched []uuid.UUID
		mu      sync.Mutex
		wg      sync.WaitGroup
	)

	if workers > len(ids) {
		workers = len(ids)
	}

	workChan := make(chan uuid.UUID, len(ids))
	for _, id := range ids {
		workChan <- id
	}
	close(workChan)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range workChan {
				c.processOne(ctx, tenantID, id, process, &mu, &stats, &touched)
			}
		}()
	}
	wg.Wait()

	return stats, touched
}

func (c *BatchCoordinator) processOne(ctx context.Context, tenantID, id uuid.UUID, process processFunc, mu *sync.Mutex, stats *MatchRunStats, touched *[]uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic while matching",
				zap.String("id", id.String()),
				zap.Any("panic", r),
			)
			mu.Lock()
			stats.Processed++
			stats.Errors++
			mu.Unlock()
		}
	}()

	result, err := process(ctx, tenantID, id)

	mu.Lock()
	defer mu.Unlock()
	stats.Processed++

	if err != nil {
		stats.Errors++
		c.logger.Error("Matching failed",
			zap.String("id", id.String()),
			zap.Error(err),
		)
		return
	}

	switch result.Outcome {
	case OutcomeAutoMatched:
		stats.AutoMatched++
	case OutcomeSuggested:
		stats.Suggestions++
	case OutcomeSkipped:
		// Unmatchable items (no embedding or date yet) are not no-match
		// results; they become matchable again after a backfill.
		stats.Skipped++
	default:
		stats.NoMatches++
	}
	if result.InboxItemID != uuid.Nil {
		*touched = append(*touched, result.InboxItemID)
	}
}

// HandleBatchInboxMatching runs the forward direction over an explicit list
// of inbox items.
func (c *BatchCoordinator) HandleBatchInboxMatching(ctx context.Context, tenantID uuid.UUID, inboxItemIDs []uuid.UUID) (MatchRunStats, error) {
	stats, _ := c.runBatch(ctx, tenantID, inboxItemIDs, inboxBatchSize, c.matcher.ProcessInboxMatching)

	c.logger.Info("Batch inbox matching finished",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("processed", stats.Processed),
		zap.Int("auto_matched", stats.AutoMatched),
		zap.Int("suggestions", stats.Suggestions),
		zap.Int("errors", stats.Errors),
	)

	c.recalibrateAsync(tenantID)
	return stats, nil
}

// HandleBidirectionalMatching first matches new transactions against pending
// inbox items, then sweeps the inbox items the first phase did not touch.
func (c *BatchCoordinator) HandleBidirectionalMatching(ctx context.Context, tenantID uuid.UUID, transactionIDs []uuid.UUID) (MatchRunStats, error) {
	stats, touched := c.runBatch(ctx, tenantID, transactionIDs, bidirectionalBatchSize, c.matcher.ProcessTransactionMatching)

	pending, err := c.inbox.FindPendingIDs(ctx, tenantID, touched, forwardSweepLimit)
	if err != nil {
		c.logger.Error("Failed to load pending inbox items for sweep", zap.Error(err))
	} else if len(pending) > 0 {
		sweepStats, _ := c.runBatch(ctx, tenantID, pending, bidirectionalBatchSize, c.matcher.ProcessInboxMatching)
		stats.Processed += sweepStats.Processed
		stats.AutoMatched += sweepStats.AutoMatched
		stats.Suggestions += sweepStats.Suggestions
		stats.NoMatches += sweepStats.NoMatches
		stats.Skipped += sweepStats.Skipped
		stats.Errors += sweepStats.Errors
	}

	c.logger.Info("Bidirectional matching finished",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("transactions", len(transactionIDs)),
		zap.Int("processed", stats.Processed),
		zap.Int("auto_matched", stats.AutoMatched),
		zap.Int("suggestions", stats.Suggestions),
		zap.Int("errors", stats.Errors),
	)

	c.recalibrateAsync(tenantID)
	return stats, nil
}

// SmartMatching dispatches on whatever the caller has: explicit inbox items
// win, then new transactions, otherwise every pending inbox item.
func (c *BatchCoordinator) SmartMatching(ctx context.Context, tenantID uuid.UUID, inboxItemIDs, transactionIDs []uuid.UUID) (MatchRunStats, error) {
	switch {
	case len(inboxItemIDs) > 0:
		return c.HandleBatchInboxMatching(ctx, tenantID, inboxItemIDs)
	case len(transactionIDs) > 0:
		return c.HandleBidirectionalMatching(ctx, tenantID, transactionIDs)
	}

	pending, err := c.inbox.FindPendingIDs(ctx, tenantID, nil, smartMatchLimit)
	if err != nil {
		return MatchRunStats{}, err
	}
	return c.HandleBatchInboxMatching(ctx, tenantID, pending)
}

// recalibrateAsync refreshes the tenant's thresholds in the background. A
// failed or panicking recalibration only loses freshness, so it is logged
// and dropped.
func (c *BatchCoordinator) recalibrateAsync(tenantID uuid.UUID) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Panic during recalibration", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), recalibrationTimeout)
		defer cancel()

		if _, err := c.calibration.UpdateCalibration(ctx, tenantID); err != nil {
			c.logger.Error("Background recalibration failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}()
}
