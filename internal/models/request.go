package models

type ClaimTrialRequest struct {
	Name  string `json:"name" binding:"required,min=2,max=60" example:"Maria"`
	Email string `json:"email" binding:"required,max=254,email" example:"maria@example.com"`
}

// ClaimMetadata is advisory origin information stored with a trial record.
type ClaimMetadata struct {
	IP        string
	UserAgent string
}
