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

type InboxRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewInboxRepository(db *pgxpool.Pool, logger *zap.Logger) *InboxRepository {
	return &InboxRepository{
		db:     db,
		logger: logger,
	}
}

var inboxColumns = []string{
	"id", "tenant_id", "display_name", "website", "description",
	"amount", "base_amount", "currency", "base_currency", "date",
	"document_type", "status", "transaction_id", "embedding",
	"created_at", "updated_at",
}

func (r *InboxRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.InboxItem, error) {
	query := squirrel.Select(inboxColumns...).
		From("inbox_items").
		Where(squirrel.Eq{"tenant_id": tenantID, "id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	item, err := scanInboxItem(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

type inboxRowScanner interface {
	Scan(dest ...any) error
}

func scanInboxItem(row inboxRowScanner) (*models.InboxItem, error) {
	var item models.InboxItem
	var embedding pgtype.FlatArray[float32]
	err := row.Scan(
		&item.ID, &item.TenantID, &item.DisplayName, &item.Website, &item.Description,
		&item.Amount, &item.BaseAmount, &item.Currency, &item.BaseCurrency, &item.Date,
		&item.DocumentType, &item.Status, &item.TransactionID, &embedding,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Embedding = []float32(embedding)
	return &item, nil
}

// UpdateStatus transitions an inbox item and optionally links it to a
// transaction. A non-nil transactionID replaces any previous link; an inbox
// item never carries more than one.
func (r *InboxRepository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.InboxStatus, transactionID *uuid.UUID) error {
	query := squirrel.Update("inbox_items").
		Set("status", status).
		Set("transaction_id", transactionID).
		Set("updated_at", time.Now()).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindPendingNearEmbedding finds pending inbox items semantically close to a
// payment, inside a fixed date window. Reverse-direction retrieval uses a
// single query here instead of the tiered forward strategy.
func (r *InboxRepository) FindPendingNearEmbedding(ctx context.Context, tenantID uuid.UUID, embedding []float32, from, to time.Time, maxDistance float64, limit uint64) ([]*models.InboxItem, error) {
	emb := pgtype.FlatArray[float32](embedding)

	query := squirrel.Select(inboxColumns...).
		Column(squirrel.Expr("(embedding <=> ?) AS distance", emb)).
		From("inbox_items").
		Where(squirrel.Eq{"tenant_id": tenantID, "status": models.InboxStatusPending}).
		Where("embedding IS NOT NULL").
		Where(squirrel.Expr("(embedding <=> ?) < ?", emb, maxDistance)).
		Where(squirrel.GtOrEq{"date": from}).
		Where(squirrel.LtOrEq{"date": to}).
		OrderBy("distance ASC").
		Limit(limit).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.InboxItem
	for rows.Next() {
		var item models.InboxItem
		var embeddingData pgtype.FlatArray[float32]
		var distance float64
		if err := rows.Scan(
			&item.ID, &item.TenantID, &item.DisplayName, &item.Website, &item.Description,
			&item.Amount, &item.BaseAmount, &item.Currency, &item.BaseCurrency, &item.Date,
			&item.DocumentType, &item.Status, &item.TransactionID, &embeddingData,
			&item.CreatedAt, &item.UpdatedAt, &distance,
		); err != nil {
			return nil, err
		}
		item.Embedding = []float32(embeddingData)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// FindPendingIDs returns ids of pending inbox items, excluding the given set,
// oldest first.
func (r *InboxRepository) FindPendingIDs(ctx context.Context, tenantID uuid.UUID, exclude []uuid.UUID, limit uint64) ([]uuid.UUID, error) {
	query := squirrel.Select("id").
		From("inbox_items").
		Where(squirrel.Eq{"tenant_id": tenantID, "status": models.InboxStatusPending}).
		OrderBy("created_at ASC").
		Limit(limit).
		PlaceholderFormat(squirrel.Dollar)

	if len(exclude) > 0 {
		query = query.Where(squirrel.NotEq{"id": exclude})
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

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
