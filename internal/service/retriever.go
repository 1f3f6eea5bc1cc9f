package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"ledgermatch/internal/models"
	"ledgermatch/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Retrieval tier parameters. Tiers run in order and short-circuit once enough
// candidates exist; each relaxes the previous one's constraints.
const (
	tier1AmountTolerance = 0.01
	tier2AmountTolerance = 0.15
	tier34AmountTol      = 0.20

	tier1MaxDistance = 0.60
	tier2MaxDistance = 0.60
	tier3MaxDistance = 0.35
	tier4MaxDistance = 0.45

	tier1Cap = 5
	tier2Cap = 5
	tier3Cap = 10
	tier4Cap = 10

	tier4WindowDays = 30
)

// CandidateRetriever collects de-duplicated payment candidates for an inbox
// item by folding the ordered tier strategies.
type CandidateRetriever struct {
	payments candidateSource
	logger   *zap.Logger
}

func NewCandidateRetriever(payments candidateSource, logger *zap.Logger) *CandidateRetriever {
	return &CandidateRetriever{
		payments: payments,
		logger:   logger,
	}
}

type retrievalTier struct {
	name      string
	shouldRun func(item *models.InboxItem, found int) bool
	fetch     func(ctx context.Context, item *models.InboxItem) ([]*models.Payment, error)
}

// Retrieve runs the tier strategies in order against an inbox item with a
// known embedding and date, de-duplicating by payment id.
func (r *CandidateRetriever) Retrieve(ctx context.Context, item *models.InboxItem) ([]*models.Payment, error) {
	tiers := []retrievalTier{
		{
			name: "exact_currency",
			shouldRun: func(item *models.InboxItem, _ int) bool {
				return item.Amount != nil && item.Currency != ""
			},
			fetch: r.fetchTier1,
		},
		{
			name: "cross_currency",
			shouldRun: func(item *models.InboxItem, found int) bool {
				return found < 15 && item.BaseAmount != nil && item.BaseCurrency != nil
			},
			fetch: r.fetchTier2,
		},
		{
			name: "any_currency",
			shouldRun: func(_ *models.InboxItem, found int) bool {
				return found < 15
			},
			fetch: r.fetchTier3,
		},
		{
			name: "narrow_window",
			shouldRun: func(_ *models.InboxItem, found int) bool {
				return found < 10
			},
			fetch: r.fetchTier4,
		},
	}

	seen := make(map[uuid.UUID]struct{})
	var candidates []*models.Payment

	for _, tier := range tiers {
		if !tier.shouldRun(item, len(candidates)) {
			continue
		}

		found, err := tier.fetch(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("tier %s retrieval failed: %w", tier.name, err)
		}

		added := 0
		for _, p := range found {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			candidates = append(candidates, p)
			added++
		}

		r.logger.Debug("Retrieval tier completed",
			zap.String("tier", tier.name),
			zap.Int("fetched", len(found)),
			zap.Int("added", added),
			zap.Int("total", len(candidates)),
		)
	}

	return candidates, nil
}

func (r *CandidateRetriever) fetchTier1(ctx context.Context, item *models.InboxItem) ([]*models.Payment, error) {
	from, to := r.itemWindow(item)
	amountMin, amountMax := amountBounds(*item.Amount, tier1AmountTolerance)

	return r.payments.FindCandidates(ctx, repository.CandidateQuery{
		TenantID:    item.TenantID,
		Embedding:   item.Embedding,
		MaxDistance: tier1MaxDistance,
		Currency:    item.Currency,
		AmountMin:   &amountMin,
		AmountMax:   &amountMax,
		DateFrom:    from,
		DateTo:      to,
		Limit:       tier1Cap,
	})
}

func (r *CandidateRetriever) fetchTier2(ctx context.Context, item *models.InboxItem) ([]*models.Payment, error) {
	from, to := r.itemWindow(item)
	baseMin, baseMax := amountBounds(*item.BaseAmount, tier2AmountTolerance)

	return r.payments.FindCrossCurrencyCandidates(ctx, repository.CrossCurrencyQuery{
		TenantID:        item.TenantID,
		Embedding:       item.Embedding,
		MaxDistance:     tier2MaxDistance,
		ExcludeCurrency: item.Currency,
		BaseAmountMin:   baseMin,
		BaseAmountMax:   baseMax,
		DateFrom:        from,
		DateTo:          to,
		Limit:           tier2Cap,
	})
}

func (r *CandidateRetriever) fetchTier3(ctx context.Context, item *models.InboxItem) ([]*models.Payment, error) {
	from, to := r.itemWindow(item)

	q := repository.CandidateQuery{
		TenantID:    item.TenantID,
		Embedding:   item.Embedding,
		MaxDistance: tier3MaxDistance,
		DateFrom:    from,
		DateTo:      to,
		Limit:       tier3Cap,
	}
	applyAmountTolerance(&q, item.Amount, tier34AmountTol)

	return r.payments.FindCandidates(ctx, q)
}

func (r *CandidateRetriever) fetchTier4(ctx context.Context, item *models.InboxItem) ([]*models.Payment, error) {
	from, to := r.itemWindow(item)

	// Tighten the document-type window to +-30 days.
	narrowFrom := item.Date.AddDate(0, 0, -tier4WindowDays)
	narrowTo := item.Date.AddDate(0, 0, tier4WindowDays)
	if narrowFrom.After(from) {
		from = narrowFrom
	}
	if narrowTo.Before(to) {
		to = narrowTo
	}

	q := repository.CandidateQuery{
		TenantID:    item.TenantID,
		Embedding:   item.Embedding,
		MaxDistance: tier4MaxDistance,
		DateFrom:    from,
		DateTo:      to,
		Limit:       tier4Cap,
	}
	applyAmountTolerance(&q, item.Amount, tier34AmountTol)

	return r.payments.FindCandidates(ctx, q)
}

func (r *CandidateRetriever) itemWindow(item *models.InboxItem) (time.Time, time.Time) {
	before, after := dateWindow(item.DocumentType)
	return item.Date.AddDate(0, 0, before), item.Date.AddDate(0, 0, after)
}

func applyAmountTolerance(q *repository.CandidateQuery, amount *float64, tolerance float64) {
	if amount == nil {
		return
	}
	amountMin, amountMax := amountBounds(*amount, tolerance)
	q.AmountMin = &amountMin
	q.AmountMax = &amountMax
}

// amountBounds orders the tolerance band so negative amounts (refunds, credit
// notes) still produce min <= max.
func amountBounds(amount, tolerance float64) (float64, float64) {
	lo := amount * (1 - tolerance)
	hi := amount * (1 + tolerance)
	return math.Min(lo, hi), math.Max(lo, hi)
}
