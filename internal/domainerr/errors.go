// Package domainerr defines the typed errors surfaced by the sale and fiscal core.
// Every error carries a stable code and a category so callers (HTTP layer,
// workers, operators) can tell validation failures from external-protocol
// failures without string matching.
package domainerr

import "errors"

// Category groups errors by how a caller is expected to react.
type Category string

const (
	Validation Category = "validation"
	NotFound   Category = "not_found"
	Conflict   Category = "conflict"
	External   Category = "external"
	Integrity  Category = "integrity"
	Internal   Category = "internal"
)

// Error is a sentinel with a stable machine-readable code.
// Wrap it with fmt.Errorf("...: %w", ErrX) to add context.
type Error struct {
	Code     string
	Category Category
	Message  string
}

func (e *Error) Error() string { return e.Message }

// Is matches any *Error with the same code, so copies compare equal to the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newErr(code string, cat Category, msg string) *Error {
	return &Error{Code: code, Category: cat, Message: msg}
}

// ── Sale lifecycle ────────────────────────────────────────────────────────────

var (
	ErrRegisterNotFound    = newErr("REGISTER_NOT_FOUND", NotFound, "register not found")
	ErrRegisterNotOpen     = newErr("REGISTER_NOT_OPEN", Validation, "register is not open")
	ErrRegisterAlreadyOpen = newErr("REGISTER_ALREADY_OPEN", Conflict, "register is already open")
	ErrSaleNotFound        = newErr("SALE_NOT_FOUND", NotFound, "sale not found")
	ErrSaleNotOpen         = newErr("SALE_NOT_OPEN", Validation, "sale is not open")
	ErrSaleNotFinalized    = newErr("SALE_NOT_FINALIZED", Validation, "sale is not finalized")
	ErrEmptySale           = newErr("EMPTY_SALE", Validation, "sale has no lines")
	ErrAlreadyCancelled    = newErr("ALREADY_CANCELLED", Validation, "sale is already cancelled")
	ErrProductNotFound     = newErr("PRODUCT_NOT_FOUND", NotFound, "product not found")
	ErrProductInactive     = newErr("PRODUCT_INACTIVE", Validation, "product is inactive")
	ErrInsufficientStock   = newErr("INSUFFICIENT_STOCK", Validation, "insufficient stock")
	ErrInvalidQuantity     = newErr("INVALID_QUANTITY", Validation, "invalid quantity")
	ErrInvalidPrice        = newErr("INVALID_PRICE", Validation, "invalid unit price")
	ErrInvalidDiscount     = newErr("INVALID_DISCOUNT", Validation, "invalid discount")
	ErrInsufficientPayment = newErr("INSUFFICIENT_PAYMENT", Validation, "payments do not cover the sale total")
	ErrInvalidPayment      = newErr("INVALID_PAYMENT", Validation, "invalid payment")
)

var ErrInvalidJustification = newErr("INVALID_JUSTIFICATION", Validation,
	"justification must have between 15 and 255 characters")

// ── Cash register ─────────────────────────────────────────────────────────────

var (
	ErrInvalidAmount       = newErr("INVALID_AMOUNT", Validation, "amount must be positive")
	ErrInsufficientCash    = newErr("INSUFFICIENT_CASH", Validation, "register balance does not cover the withdrawal")
	ErrNotesRequired       = newErr("NOTES_REQUIRED", Validation, "critical deviation requires closing notes")
	ErrInvalidMovementKind = newErr("INVALID_MOVEMENT_KIND", Validation, "movement kind must be withdrawal or supply")
)

// ── Fiscal documents ──────────────────────────────────────────────────────────

var (
	ErrUnsupportedKind    = newErr("UNSUPPORTED_DOCUMENT_KIND", Validation, "unsupported fiscal document kind")
	ErrAlreadyEmitted     = newErr("ALREADY_EMITTED", Validation, "fiscal document already emitted")
	ErrEmissionInProgress = newErr("EMISSION_IN_PROGRESS", Conflict, "fiscal document submission in progress")
	ErrNothingToCancel    = newErr("NOTHING_TO_CANCEL", Validation, "no emitted fiscal document to cancel")
	ErrDocumentNotFound   = newErr("DOCUMENT_NOT_FOUND", NotFound, "fiscal document not found")
	ErrInvalidAccessKey   = newErr("INVALID_ACCESS_KEY", Validation, "malformed access key")
	ErrPayloadInvalid     = newErr("FISCAL_PAYLOAD_INVALID", Validation, "fiscal payload could not be built")

	ErrFiscalTransport   = newErr("FISCAL_TRANSPORT", External, "fiscal transport failure")
	ErrFiscalTimeout     = newErr("FISCAL_TIMEOUT", External, "fiscal authority did not answer in time")
	ErrFiscalRejected    = newErr("FISCAL_REJECTED", External, "fiscal authority rejected the document")
	ErrFiscalUnavailable = newErr("FISCAL_UNAVAILABLE", External, "fiscal authority unavailable")
)

// ── Storage ───────────────────────────────────────────────────────────────────

var ErrConcurrentModification = newErr("CONCURRENT_MODIFICATION", Integrity,
	"concurrent modification, retries exhausted")

// CategoryOf returns the category of the first *Error in err's chain,
// or Internal when err carries none.
func CategoryOf(err error) Category {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	return Internal
}

// CodeOf returns the code of the first *Error in err's chain, or "INTERNAL".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL"
}
