package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InlineEmission emits every enabled kind right after finalize, on the
// caller's goroutine. Failures stay on the document for the retry sweep.
type InlineEmission struct {
	fiscal FiscalEmitter
	kinds  []string
}

func NewInlineEmission(f FiscalEmitter, kinds []string) *InlineEmission {
	return &InlineEmission{fiscal: f, kinds: kinds}
}

var _ EmissionTrigger = (*InlineEmission)(nil)

func (e *InlineEmission) SaleFinalized(ctx context.Context, saleID uuid.UUID) {
	for _, kind := range e.kinds {
		if _, err := e.fiscal.Emit(ctx, saleID, kind); err != nil {
			log.Warn().Err(err).Str("sale_id", saleID.String()).Str("kind", kind).
				Msg("emission: inline emission failed")
		}
	}
}
