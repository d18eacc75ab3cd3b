package ledger

import (
	"errors"
	"fmt"

	"invoicematch/internal/model"
)

// Kind identifies a terminal credential condition.
type Kind string

const (
	KindNoCredential Kind = "no_credential"
	KindExpired      Kind = "expired"
	KindDisabled     Kind = "disabled"
	// KindBelowThreshold is informational: it never blocks Acquire.
	KindBelowThreshold Kind = "below_threshold"
)

// Fixed user-facing messages.
const (
	MessageExpired        = "Your AI token has expired. Please renew your subscription."
	MessageDisabled       = "Your AI token is no longer available or has been disabled. Please contact support."
	MessageNoCredential   = "No active token found for your company. Please contact support."
	MessageBelowThreshold = "Your AI token is running low on remaining quota."
)

// CredentialError reports why a tenant has no usable credential.
type CredentialError struct {
	Kind     Kind
	TenantID string
	// Status is the credential status that produced Kind, if any.
	Status model.CredentialStatus
}

func (e *CredentialError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("tenant %s: %s (status %s)", e.TenantID, e.Kind, e.Status)
	}
	return fmt.Sprintf("tenant %s: %s", e.TenantID, e.Kind)
}

// UserMessage returns the fixed message shown to the caller.
func (e *CredentialError) UserMessage() string {
	switch e.Kind {
	case KindExpired:
		return MessageExpired
	case KindDisabled:
		return MessageDisabled
	case KindBelowThreshold:
		return MessageBelowThreshold
	default:
		return MessageNoCredential
	}
}

// MessageFor returns the user message for a credential error, or "" when err
// is not one.
func MessageFor(err error) string {
	var ce *CredentialError
	if errors.As(err, &ce) {
		return ce.UserMessage()
	}
	return ""
}
