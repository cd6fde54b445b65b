package notify

import (
	"context"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
)

// Sender implements delivery for one target kind. Errors must be
// classified with internal/errors.Transient or internal/errors.Permanent
// so the worker knows whether to retry or dead-letter immediately.
type Sender interface {
	Kind() domain.TargetKind
	Send(ctx context.Context, target domain.Target, message string) error
}
