package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"ledgermatch/pkg/config"

	"github.com/Role1776/gigago"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EmbeddingResult carries the vector together with the model that produced
// it. Vectors from different models are not comparable.
type EmbeddingResult struct {
	Vector  []float32
	ModelID string
}

// GigaChat REST API endpoints.
// Documentation: https://developers.sber.ru/docs/ru/gigachat/api/main
const (
	gigaChatBaseURL  = "https://gigachat.devices.sberbank.ru/api/v1"
	gigaChatOAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
)

// EmbeddingService turns prepared document text into fixed-dimension vectors
// via the GigaChat embeddings endpoint, and generates match rationales via
// the chat model.
type EmbeddingService struct {
	client     *gigago.Client
	model      *gigago.GenerativeModel
	config     *config.GigaChatConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	oauthURL   string

	// Cached access token for direct REST calls. Batch matching fans
	// embedding calls out over worker pools, so the token is guarded.
	tokenMu     sync.Mutex
	accessToken string
}

func NewEmbeddingService(cfg *config.GigaChatConfig, logger *zap.Logger) (*EmbeddingService, error) {
	ctx := context.Background()

	opts := []gigago.Option{
		gigago.WithCustomScope(cfg.Scope),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
		logger.Warn("GigaChat TLS certificate verification is disabled")
	}

	client, err := gigago.NewClient(ctx, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GigaChat client: %w", err)
	}

	model := client.GenerativeModel("GigaChat")
	model.SystemInstruction = "You write one-sentence explanations of why a financial document was matched to a ledger transaction. Mention the merchant, the amount and the date proximity. Be factual, no speculation."
	model.Temperature = 0.3

	httpClient := &http.Client{}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	accessToken, err := getAccessToken(ctx, cfg, httpClient, gigaChatOAuthURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return &EmbeddingService{
		client:      client,
		model:       model,
		config:      cfg,
		logger:      logger,
		httpClient:  httpClient,
		baseURL:     gigaChatBaseURL,
		oauthURL:    gigaChatOAuthURL,
		accessToken: accessToken,
	}, nil
}

// getAccessToken obtains an access token from the GigaChat OAuth endpoint.
// The API key is expected to be Base64-encoded already, per the API docs.
func getAccessToken(ctx context.Context, cfg *config.GigaChatConfig, httpClient *http.Client, oauthURL string, logger *zap.Logger) (string, error) {
	rqUID := uuid.New().String()

	formData := url.Values{}
	formData.Set("scope", cfg.Scope)

	req, err := http.NewRequestWithContext(ctx, "POST", oauthURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create OAuth request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", rqUID)
	req.Header.Set("Authorization", "Basic "+cfg.APIKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.Error("OAuth request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("rq_uid", rqUID),
		)
		return "", fmt.Errorf("OAuth failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oauthResp); err != nil {
		return "", fmt.Errorf("failed to decode OAuth response: %w", err)
	}
	if oauthResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in OAuth response")
	}

	return oauthResp.AccessToken, nil
}

// GenerateEmbedding embeds a single prepared text.
func (s *EmbeddingService) GenerateEmbedding(ctx context.Context, text string) (*EmbeddingResult, error) {
	vectors, modelID, err := s.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	return &EmbeddingResult{Vector: vectors[0], ModelID: modelID}, nil
}

// GenerateEmbeddings embeds a batch of prepared texts. All returned vectors
// have equal length, suitable for cosine comparison.
// Endpoint: POST /embeddings
func (s *EmbeddingService) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, string, error) {
	if len(texts) == 0 {
		return nil, s.config.EmbeddingModel, nil
	}

	requestBody := map[string]interface{}{
		"model": s.config.EmbeddingModel,
		"input": texts,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := s.doEmbeddingRequest(ctx, jsonData)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("embeddings request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var embResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, "", fmt.Errorf("failed to decode embeddings response: %w", err)
	}

	if len(embResp.Data) != len(texts) {
		return nil, "", fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embResp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, "", fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	s.logger.Debug("Embeddings generated",
		zap.Int("count", len(vectors)),
		zap.String("model", embResp.Model),
	)

	return vectors, embResp.Model, nil
}

// doEmbeddingRequest performs the call, refreshing the cached token once on a
// 401. The JSON body is re-creatable, so unlike uploads the retry is safe.
func (s *EmbeddingService) doEmbeddingRequest(ctx context.Context, jsonData []byte) (*http.Response, error) {
	send := func(token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return s.httpClient.Do(req)
	}

	token := s.currentToken()
	resp, err := send(token)
	if err != nil {
		return nil, fmt.Errorf("failed to call embeddings endpoint: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()

		token, err = s.refreshAccessToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("embeddings call got 401, token refresh also failed: %w", err)
		}

		resp, err = send(token)
		if err != nil {
			return nil, fmt.Errorf("failed to call embeddings endpoint after token refresh: %w", err)
		}
	}

	return resp, nil
}

func (s *EmbeddingService) currentToken() string {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.accessToken
}

// refreshAccessToken swaps the cached token after a 401. Workers that raced
// on the same stale token share a single OAuth round trip.
func (s *EmbeddingService) refreshAccessToken(ctx context.Context, stale string) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if s.accessToken != stale {
		return s.accessToken, nil
	}

	token, err := getAccessToken(ctx, s.config, s.httpClient, s.oauthURL, s.logger)
	if err != nil {
		return "", err
	}
	s.accessToken = token
	return token, nil
}

// ExplainMatch generates a one-sentence rationale for a match, stored in the
// suggestion's details. Callers treat failures as non-fatal.
func (s *EmbeddingService) ExplainMatch(ctx context.Context, inboxText, paymentText string, summary ScoreSummary) (string, error) {
	prompt := fmt.Sprintf(`A financial document was matched to a ledger transaction.

Document: %s
Transaction: %s
Scores: semantic %.2f, amount %.2f, currency %.2f, date %.2f, overall confidence %.2f.

Explain the match in one sentence.`,
		inboxText, paymentText,
		summary.EmbeddingScore, summary.AmountScore, summary.CurrencyScore, summary.DateScore, summary.Confidence,
	)

	messages := []gigago.Message{
		{Role: gigago.RoleUser, Content: prompt},
	}

	resp, err := s.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("failed to generate match rationale: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	return sanitizeUTF8(strings.TrimSpace(resp.Choices[0].Message.Content)), nil
}

func (s *EmbeddingService) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
