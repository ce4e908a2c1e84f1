package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// VerifyResult is one provider verdict for one mailbox.
type VerifyResult struct {
	Status models.VerificationStatus // valid, invalid, catchall, risky, unknown
	Raw    string                    // Provider response body, preserved for audit
}

// MailboxVerifier is the external mailbox-validation collaborator. Providers
// enforce their own quota; implementations surface quota pressure as errors
// so the worker can back off.
type MailboxVerifier interface {
	Verify(ctx context.Context, email string) (*VerifyResult, error)
}
