package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pdv/internal/domainerr"
	"pdv/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EmissionJobPayload is the payload of a fiscal emission job.
type EmissionJobPayload struct {
	SaleID string `json:"sale_id"`
	Kind   string `json:"kind"`
}

// EmissionWorker drives one Emit call per job. Every failure the emitter
// records on the document (transport, rejection, precondition) is left to the
// retry sweep; only failures that left nothing behind are returned.
type EmissionWorker struct {
	fiscal service.FiscalEmitter
}

func NewEmissionWorker(f service.FiscalEmitter) *EmissionWorker {
	return &EmissionWorker{fiscal: f}
}

var _ Handler = (*EmissionWorker)(nil)

func (w *EmissionWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload EmissionJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("emission_worker: bad payload: %w", err)
	}
	saleID, err := uuid.Parse(payload.SaleID)
	if err != nil {
		return fmt.Errorf("emission_worker: bad sale id %q: %w", payload.SaleID, err)
	}

	doc, err := w.fiscal.Emit(ctx, saleID, payload.Kind)
	if err == nil {
		log.Info().
			Str("sale_id", payload.SaleID).
			Str("kind", payload.Kind).
			Str("access_key", deref(doc.AccessKey)).
			Msg("emission_worker: document emitted")
		return nil
	}

	switch {
	case errors.Is(err, domainerr.ErrAlreadyEmitted), errors.Is(err, domainerr.ErrEmissionInProgress):
		log.Debug().Err(err).Str("sale_id", payload.SaleID).Msg("emission_worker: nothing to do")
		return nil
	case domainerr.CategoryOf(err) == domainerr.Internal:
		return err
	}
	log.Warn().Err(err).
		Str("sale_id", payload.SaleID).
		Str("kind", payload.Kind).
		Str("code", domainerr.CodeOf(err)).
		Msg("emission_worker: emission failed, left to retry sweep")
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
