package dto

type CalibrationResponse struct {
	TenantID                string  `json:"tenant_id"`
	SuggestedThreshold      float64 `json:"suggested_threshold"`
	HighConfidenceThreshold float64 `json:"high_confidence_threshold"`
	AutoMatchThreshold      float64 `json:"auto_match_threshold"`
	TotalFeedback           int     `json:"total_feedback"`
	ConfirmedCount          int     `json:"confirmed_count"`
	DeclinedCount           int     `json:"declined_count"`
	UnmatchedCount          int     `json:"unmatched_count"`
	Accuracy                float64 `json:"accuracy"`
	AvgConfirmedConfidence  float64 `json:"avg_confirmed_confidence"`
	AvgDeclinedConfidence   float64 `json:"avg_declined_confidence"`
	LastCalibratedAt        string  `json:"last_calibrated_at,omitempty"`
}
