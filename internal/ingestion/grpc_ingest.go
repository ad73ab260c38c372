package ingestion

import (
	"context"
	"fmt"
	"time"

	"ContraLedger/internal/core"

	"github.com/google/uuid"
)

// SubmitService turns RPC and HTTP command bodies into processor submits.
// It is the interactive path (a user editing one settlement); bulk feeds go
// through NATS.
type SubmitService struct {
	submitter Submitter
	now       func() time.Time
}

func NewSubmitService(submitter Submitter) *SubmitService {
	return &SubmitService{
		submitter: submitter,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit parses body as commandType and waits for the processor's answer.
// A nil settlementID takes the id from the body.
func (s *SubmitService) Submit(
	ctx context.Context,
	commandType string,
	settlementID uuid.UUID,
	body []byte,
) (core.Result, error) {
	cmd, err := ParseCommand(commandType, settlementID, s.now(), body)
	if err != nil {
		return core.Result{}, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	return s.submitter.Submit(ctx, cmd)
}
