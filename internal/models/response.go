package models

import "time"

type ErrorResponse struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type ClaimTrialResponse struct {
	Eligible bool `json:"eligible"`
}

type ImagePayload struct {
	B64JSON  string `json:"b64_json"`
	MimeType string `json:"mime_type"`
}

type JobResponse struct {
	JobID     string       `json:"job_id"`
	Status    string       `json:"status"`
	Degraded  bool         `json:"degraded"`
	Billed    bool         `json:"billed"`
	Warning   string       `json:"warning,omitempty"`
	ResultURL string       `json:"result_url,omitempty"`
	Image     ImagePayload `json:"image"`
}

type AccountResponse struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	DisplayName        string    `json:"display_name"`
	CreditBalance      int       `json:"credit_balance"`
	SubscriptionStatus string    `json:"subscription_status"`
	PlanCode           string    `json:"plan_code,omitempty"`
	Subscribed         bool      `json:"subscribed"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Ledger string `json:"ledger,omitempty"`
}
