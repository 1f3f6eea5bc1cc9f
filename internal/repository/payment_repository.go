package repository

import (
	"context"
	"errors"
	"time"

	"ledgermatch/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

// CandidateQuery describes one retrieval tier against the payments table.
// Nil amount bounds mean no amount filter; empty Currency means any currency.
type CandidateQuery struct {
	TenantID    uuid.UUID
	Embedding   []float32
	MaxDistance float64
	Currency    string
	AmountMin   *float64
	AmountMax   *float64
	DateFrom    time.Time
	DateTo      time.Time
	Limit       uint64
}

// CrossCurrencyQuery filters on base-currency amounts instead of original
// amounts, for candidates booked in a different currency.
type CrossCurrencyQuery struct {
	TenantID        uuid.UUID
	Embedding       []float32
	MaxDistance     float64
	ExcludeCurrency string
	BaseAmountMin   float64
	BaseAmountMax   float64
	DateFrom        time.Time
	DateTo          time.Time
	Limit           uint64
}

type PaymentRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPaymentRepository(db *pgxpool.Pool, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{
		db:     db,
		logger: logger,
	}
}

var candidateColumns = []string{
	"id", "tenant_id", "name", "description", "merchant_name",
	"amount", "base_amount", "currency", "base_currency", "date",
}

func vectorParam(embedding []float32) pgtype.FlatArray[float32] {
	return pgtype.FlatArray[float32](embedding)
}

// FindCandidates runs one retrieval tier: vector-similarity ordering with
// amount/currency/date range filters and a tier-specific result cap.
func (r *PaymentRepository) FindCandidates(ctx context.Context, q CandidateQuery) ([]*models.Payment, error) {
	emb := vectorParam(q.Embedding)

	query := squirrel.Select(candidateColumns...).
		Column(squirrel.Expr("(embedding <=> ?) AS distance", emb)).
		From("payments").
		Where(squirrel.Eq{"tenant_id": q.TenantID}).
		Where("embedding IS NOT NULL").
		Where(squirrel.Expr("(embedding <=> ?) < ?", emb, q.MaxDistance)).
		Where(squirrel.GtOrEq{"date": q.DateFrom}).
		Where(squirrel.LtOrEq{"date": q.DateTo}).
		OrderBy("distance ASC").
		Limit(q.Limit).
		PlaceholderFormat(squirrel.Dollar)

	if q.Currency != "" {
		query = query.Where(squirrel.Eq{"currency": q.Currency})
	}
	if q.AmountMin != nil {
		query = query.Where(squirrel.GtOrEq{"amount": *q.AmountMin})
	}
	if q.AmountMax != nil {
		query = query.Where(squirrel.LtOrEq{"amount": *q.AmountMax})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCandidates(rows)
}

// FindCrossCurrencyCandidates is best-effort: deployments without the
// base-currency columns produce a query error, which degrades to an empty
// result instead of failing the whole retrieval.
func (r *PaymentRepository) FindCrossCurrencyCandidates(ctx context.Context, q CrossCurrencyQuery) ([]*models.Payment, error) {
	emb := vectorParam(q.Embedding)

	query := squirrel.Select(candidateColumns...).
		Column(squirrel.Expr("(embedding <=> ?) AS distance", emb)).
		From("payments").
		Where(squirrel.Eq{"tenant_id": q.TenantID}).
		Where("embedding IS NOT NULL").
		Where(squirrel.Expr("(embedding <=> ?) < ?", emb, q.MaxDistance)).
		Where(squirrel.NotEq{"currency": q.ExcludeCurrency}).
		Where(squirrel.GtOrEq{"base_amount": q.BaseAmountMin}).
		Where(squirrel.LtOrEq{"base_amount": q.BaseAmountMax}).
		Where(squirrel.GtOrEq{"date": q.DateFrom}).
		Where(squirrel.LtOrEq{"date": q.DateTo}).
		OrderBy("distance ASC").
		Limit(q.Limit).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		r.logger.Warn("Cross-currency candidate query unavailable, skipping tier",
			zap.String("tenant_id", q.TenantID.String()),
			zap.Error(err),
		)
		return nil, nil
	}
	defer rows.Close()

	candidates, err := scanCandidates(rows)
	if err != nil {
		r.logger.Warn("Cross-currency candidate scan failed, skipping tier", zap.Error(err))
		return nil, nil
	}
	return candidates, nil
}

func scanCandidates(rows pgx.Rows) ([]*models.Payment, error) {
	var payments []*models.Payment
	for rows.Next() {
		var p models.Payment
		var distance float64
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Description, &p.MerchantName,
			&p.Amount, &p.BaseAmount, &p.Currency, &p.BaseCurrency, &p.Date,
			&distance,
		); err != nil {
			return nil, err
		}
		p.EmbeddingDistance = &distance
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Payment, error) {
	query := squirrel.Select(append(candidateColumns, "embedding")...).
		From("payments").
		Where(squirrel.Eq{"tenant_id": tenantID, "id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var p models.Payment
	var embedding pgtype.FlatArray[float32]
	err = r.db.QueryRow(ctx, sql, args...).Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Description, &p.MerchantName,
		&p.Amount, &p.BaseAmount, &p.Currency, &p.BaseCurrency, &p.Date,
		&embedding,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.Embedding = []float32(embedding)
	return &p, nil
}

func (r *PaymentRepository) GetEmbedding(ctx context.Context, tenantID, id uuid.UUID) ([]float32, error) {
	query := squirrel.Select("embedding").
		From("payments").
		Where(squirrel.Eq{"tenant_id": tenantID, "id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var embedding pgtype.FlatArray[float32]
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&embedding); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return []float32(embedding), nil
}

// UpdateEmbedding backfills a lazily generated payment embedding.
func (r *PaymentRepository) UpdateEmbedding(ctx context.Context, tenantID, id uuid.UUID, embedding []float32) error {
	query := squirrel.Update("payments").
		Set("embedding", vectorParam(embedding)).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

// CountConfirmedNearEmbedding counts confirmed suggestions whose payment
// embedding is highly similar to the given one. Used by the merchant-pattern
// eligibility check to detect recurring vendors.
func (r *PaymentRepository) CountConfirmedNearEmbedding(ctx context.Context, tenantID uuid.UUID, embedding []float32, maxDistance float64) (int, error) {
	emb := vectorParam(embedding)

	query := squirrel.Select("count(*)").
		From("match_suggestions ms").
		Join("payments p ON p.id = ms.transaction_id AND p.tenant_id = ms.tenant_id").
		Where(squirrel.Eq{"ms.tenant_id": tenantID, "ms.status": models.SuggestionStatusConfirmed}).
		Where("p.embedding IS NOT NULL").
		Where(squirrel.Expr("(p.embedding <=> ?) < ?", emb, maxDistance)).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
