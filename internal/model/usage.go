package model

import "time"

// UsageReport is the consumption reported by the extraction service for one
// completed operation.
type UsageReport struct {
	InputTokens          int64 `json:"input_tokens"`
	OutputTokens         int64 `json:"output_tokens"`
	TextPromptTokens     int64 `json:"text_prompt_tokens"`
	ImagePromptTokens    int64 `json:"image_prompt_tokens"`
	TextCandidatesTokens int64 `json:"text_candidates_tokens"`
	Requests             int64 `json:"requests"`
}

// Total is the amount charged against the credential quota.
func (u UsageReport) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Attribution tags a usage record with who asked for the work.
type Attribution struct {
	Caller  string `json:"caller"`
	OrgUnit string `json:"org_unit"`
}

// UsageRecord is one append-only row per completed remote operation.
type UsageRecord struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	CredentialID         uint      `gorm:"index;not null" json:"credential_id"`
	Caller               string    `gorm:"type:varchar(255);default:'System'" json:"caller"`
	OrgUnit              string    `gorm:"type:varchar(255);default:'Default'" json:"org_unit"`
	InputTokens          int64     `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens         int64     `gorm:"not null;default:0" json:"output_tokens"`
	TextPromptTokens     int64     `gorm:"not null;default:0" json:"text_prompt_tokens"`
	ImagePromptTokens    int64     `gorm:"not null;default:0" json:"image_prompt_tokens"`
	TextCandidatesTokens int64     `gorm:"not null;default:0" json:"text_candidates_tokens"`
	Total                int64     `gorm:"not null;default:0" json:"total"`
	RequestCount         int64     `gorm:"not null;default:1" json:"request_count"`
	LoggedAt             time.Time `gorm:"index" json:"logged_at"`
}

// UsageSummary is the running total for one credential. TotalUsed always
// equals the sum of the credential's UsageRecord totals.
type UsageSummary struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CredentialID   uint      `gorm:"uniqueIndex;not null" json:"credential_id"`
	TotalUsed      int64     `gorm:"not null;default:0" json:"total_used"`
	TotalRemaining int64     `gorm:"not null;default:0" json:"total_remaining"`
	Threshold      int64     `gorm:"not null;default:0" json:"threshold"`
	LastUpdated    time.Time `json:"last_updated"`
}

// BelowThreshold reports whether the remaining quota has dropped under the
// warning threshold. It is informational and never blocks acquisition.
func (s UsageSummary) BelowThreshold() bool {
	return s.TotalRemaining < s.Threshold
}

// RetryAttemptRecord is one append-only row per retried attempt.
type RetryAttemptRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CorrelationID string    `gorm:"type:varchar(64);index" json:"correlation_id"`
	CredentialID  *uint     `gorm:"index" json:"credential_id"`
	TenantID      string    `gorm:"type:varchar(64);index" json:"tenant_id"`
	Attempt       int       `gorm:"not null" json:"attempt"`
	Class         string    `gorm:"type:varchar(32)" json:"class"`
	ErrorText     string    `gorm:"type:text" json:"error_text"`
	IsRetryable   bool      `json:"is_retryable"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
}
