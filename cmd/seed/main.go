package main

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"log"
	"math"
	"time"

	"ledgermatch/internal/models"
	"ledgermatch/internal/service"
	"ledgermatch/pkg/config"
	"ledgermatch/pkg/logger"
	"ledgermatch/pkg/postgres"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Dimension of the GigaChat Embeddings model; the pseudo-embedding fallback
// must match it so seeded and live vectors are comparable in size.
const embeddingDim = 1024

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		username VARCHAR(50) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		password VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS inbox_items (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		website VARCHAR(255) NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION,
		base_amount DOUBLE PRECISION,
		currency VARCHAR(3) NOT NULL DEFAULT '',
		base_currency VARCHAR(3),
		date DATE,
		document_type VARCHAR(20) NOT NULL DEFAULT 'other',
		status VARCHAR(20) NOT NULL DEFAULT 'new',
		transaction_id UUID,
		embedding vector(1024),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		merchant_name VARCHAR(255) NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL,
		base_amount DOUBLE PRECISION,
		currency VARCHAR(3) NOT NULL,
		base_currency VARCHAR(3),
		date DATE NOT NULL,
		embedding vector(1024),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS match_suggestions (
		tenant_id UUID NOT NULL,
		inbox_item_id UUID NOT NULL,
		transaction_id UUID NOT NULL,
		embedding_score DOUBLE PRECISION NOT NULL,
		amount_score DOUBLE PRECISION NOT NULL,
		currency_score DOUBLE PRECISION NOT NULL,
		date_score DOUBLE PRECISION NOT NULL,
		confidence_score DOUBLE PRECISION NOT NULL,
		match_type VARCHAR(20) NOT NULL,
		match_details TEXT NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, inbox_item_id, transaction_id)
	)`,

	`CREATE TABLE IF NOT EXISTS tenant_calibrations (
		tenant_id UUID PRIMARY KEY,
		suggested_threshold DOUBLE PRECISION NOT NULL,
		auto_match_threshold DOUBLE PRECISION NOT NULL,
		high_confidence_threshold DOUBLE PRECISION NOT NULL,
		total_feedback INT NOT NULL DEFAULT 0,
		confirmed_count INT NOT NULL DEFAULT 0,
		declined_count INT NOT NULL DEFAULT 0,
		unmatched_count INT NOT NULL DEFAULT 0,
		accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_confirmed_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_declined_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_calibrated_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_inbox_items_tenant_status ON inbox_items (tenant_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_tenant_date ON payments (tenant_id, date)`,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Logger.Level); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	appLogger := logger.Get()

	ctx := context.Background()
	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	appLogger.Info("Applying schema")
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			appLogger.Fatal("Schema statement failed", zap.Error(err))
		}
	}

	embed := buildEmbedFunc(ctx, cfg, appLogger)

	tenantID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	appLogger.Info("Seeding demo tenant", zap.String("tenant_id", tenantID.String()))

	if err := seedPayments(ctx, db, tenantID, embed); err != nil {
		appLogger.Fatal("Failed to seed payments", zap.Error(err))
	}
	if err := seedInboxItems(ctx, db, tenantID, embed); err != nil {
		appLogger.Fatal("Failed to seed inbox items", zap.Error(err))
	}

	appLogger.Info("Database seeding completed")
}

// buildEmbedFunc returns the live embedder when an API key is configured,
// otherwise a deterministic stand-in so the demo data still exercises the
// vector search paths.
func buildEmbedFunc(ctx context.Context, cfg *config.Config, appLogger *zap.Logger) func(string) []float32 {
	if cfg.GigaChat.APIKey == "" {
		appLogger.Warn("No GigaChat API key, seeding with deterministic pseudo-embeddings")
		return pseudoEmbedding
	}

	embedder, err := service.NewEmbeddingService(&cfg.GigaChat, appLogger)
	if err != nil {
		appLogger.Warn("Embedding service unavailable, falling back to pseudo-embeddings", zap.Error(err))
		return pseudoEmbedding
	}

	return func(text string) []float32 {
		result, err := embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			appLogger.Warn("Embedding failed, using pseudo-embedding", zap.Error(err))
			return pseudoEmbedding(text)
		}
		return result.Vector
	}
}

// pseudoEmbedding expands an md5 digest of the text into a unit-length
// vector. Identical texts land on identical vectors, similar texts do not,
// which is enough for demo data.
func pseudoEmbedding(text string) []float32 {
	vec := make([]float32, embeddingDim)
	seed := md5.Sum([]byte(text))

	var sumSquares float64
	for i := 0; i < embeddingDim; i++ {
		block := md5.Sum(append(seed[:], byte(i), byte(i>>8)))
		bits := binary.LittleEndian.Uint32(block[:4])
		v := float32(int32(bits)) / float32(1<<31)
		vec[i] = v
		sumSquares += float64(v) * float64(v)
	}

	norm := float32(1.0)
	if sumSquares > 0 {
		norm = float32(1.0 / math.Sqrt(sumSquares))
	}
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}

type seedPayment struct {
	name        string
	description string
	amount      float64
	currency    string
	daysAgo     int
}

func seedPayments(ctx context.Context, db *pgxpool.Pool, tenantID uuid.UUID, embed func(string) []float32) error {
	payments := []seedPayment{
		{"AWS", "Amazon Web Services monthly bill", 248.60, "USD", 12},
		{"GitHub", "GitHub Team subscription", 44.00, "USD", 8},
		{"Figma", "Figma professional seats", 180.00, "USD", 30},
		{"Deutsche Bahn", "Train tickets Berlin-Munich", 127.80, "EUR", 5},
		{"Hetzner", "Dedicated server hosting", 89.00, "EUR", 15},
		{"Slack", "Slack Pro annual plan", 962.50, "USD", 45},
		{"Office Depot", "Office supplies order", 63.25, "EUR", 3},
		{"Lufthansa", "Flight FRA-LHR business trip", 412.99, "EUR", 21},
	}

	now := time.Now()
	for _, p := range payments {
		payment := &models.Payment{
			ID:          uuid.New(),
			TenantID:    tenantID,
			Name:        p.name,
			Description: p.description,
			Amount:      p.amount,
			Currency:    p.currency,
			Date:        now.AddDate(0, 0, -p.daysAgo),
		}
		payment.Embedding = embed(service.PrepareTransactionText(payment))

		query := squirrel.Insert("payments").
			Columns("id", "tenant_id", "name", "description", "amount", "currency", "date", "embedding", "created_at", "updated_at").
			Values(payment.ID, payment.TenantID, payment.Name, payment.Description, payment.Amount, payment.Currency, payment.Date,
				pgtype.FlatArray[float32](payment.Embedding), now, now).
			Suffix("ON CONFLICT (id) DO NOTHING").
			PlaceholderFormat(squirrel.Dollar)

		sql, args, err := query.ToSql()
		if err != nil {
			return err
		}
		if _, err := db.Exec(ctx, sql, args...); err != nil {
			return err
		}
	}
	return nil
}

type seedInboxItem struct {
	name        string
	website     string
	description string
	amount      float64
	currency    string
	docType     models.DocumentType
	daysAgo     int
}

func seedInboxItems(ctx context.Context, db *pgxpool.Pool, tenantID uuid.UUID, embed func(string) []float32) error {
	items := []seedInboxItem{
		{"AWS", "aws.amazon.com", "Invoice for cloud infrastructure usage", 248.60, "USD", models.DocumentTypeInvoice, 14},
		{"GitHub Inc.", "github.com", "Receipt GitHub Team plan", 44.00, "USD", models.DocumentTypeReceipt, 8},
		{"Deutsche Bahn AG", "bahn.de", "Online ticket confirmation", 127.80, "EUR", models.DocumentTypeExpense, 5},
		{"Hetzner Online GmbH", "hetzner.com", "Server invoice", 89.00, "EUR", models.DocumentTypeInvoice, 16},
		{"Coffee Corner", "", "Team breakfast receipt", 23.40, "EUR", models.DocumentTypeReceipt, 2},
	}

	now := time.Now()
	for _, it := range items {
		date := now.AddDate(0, 0, -it.daysAgo)
		amount := it.amount
		item := &models.InboxItem{
			ID:           uuid.New(),
			TenantID:     tenantID,
			DisplayName:  it.name,
			Website:      it.website,
			Description:  it.description,
			Amount:       &amount,
			Currency:     it.currency,
			Date:         &date,
			DocumentType: it.docType,
			Status:       models.InboxStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		item.Embedding = embed(service.PrepareInboxText(item))

		query := squirrel.Insert("inbox_items").
			Columns("id", "tenant_id", "display_name", "website", "description", "amount", "currency", "date", "document_type", "status", "embedding", "created_at", "updated_at").
			Values(item.ID, item.TenantID, item.DisplayName, item.Website, item.Description, item.Amount, item.Currency, item.Date, item.DocumentType, item.Status,
				pgtype.FlatArray[float32](item.Embedding), item.CreatedAt, item.UpdatedAt).
			Suffix("ON CONFLICT (id) DO NOTHING").
			PlaceholderFormat(squirrel.Dollar)

		sql, args, err := query.ToSql()
		if err != nil {
			return err
		}
		if _, err := db.Exec(ctx, sql, args...); err != nil {
			return err
		}
	}
	return nil
}
