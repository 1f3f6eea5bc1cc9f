package dto

type BatchMatchRequest struct {
	InboxItemIDs []string `json:"inbox_item_ids" validate:"required,min=1"`
}

type BidirectionalMatchRequest struct {
	TransactionIDs []string `json:"transaction_ids" validate:"required,min=1"`
}

type SmartMatchRequest struct {
	InboxItemIDs   []string `json:"inbox_item_ids,omitempty"`
	TransactionIDs []string `json:"transaction_ids,omitempty"`
}

type MatchSuggestionResponse struct {
	InboxItemID     string  `json:"inbox_item_id"`
	TransactionID   string  `json:"transaction_id"`
	EmbeddingScore  float64 `json:"embedding_score"`
	AmountScore     float64 `json:"amount_score"`
	CurrencyScore   float64 `json:"currency_score"`
	DateScore       float64 `json:"date_score"`
	ConfidenceScore float64 `json:"confidence_score"`
	MatchType       string  `json:"match_type"`
	MatchDetails    string  `json:"match_details"`
	Status          string  `json:"status"`
}

type MatchResultResponse struct {
	Outcome    string                   `json:"outcome"`
	Suggestion *MatchSuggestionResponse `json:"suggestion,omitempty"`
}

type BatchStatsResponse struct {
	Processed   int `json:"processed"`
	AutoMatched int `json:"auto_matched"`
	Suggestions int `json:"suggestions"`
	NoMatches   int `json:"no_matches"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

type FeedbackRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed declined unmatched"`
}
