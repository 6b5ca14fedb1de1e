package fiscal

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"pdv/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidPayload wraps every reason a payload could not be built.
var ErrInvalidPayload = errors.New("invalid fiscal payload")

// DocumentInfo carries the document-level fields that do not come from the sale.
type DocumentInfo struct {
	Kind         Kind
	DocumentID   uuid.UUID
	Number       int64
	IssuedAt     time.Time
	RegisterCode string
}

// Prepared is a payload ready for submission. AccessKey is empty for kinds
// whose key is assigned by the device.
type Prepared struct {
	AccessKey string
	Payload   []byte
}

// CancelInfo describes a cancellation request.
type CancelInfo struct {
	Kind          Kind
	Number        int64
	AccessKey     string
	Protocol      string
	Justification string
	RequestedAt   time.Time
	RegisterCode  string
}

// Builder renders payloads for one issuer.
type Builder struct {
	issuer Issuer
}

func NewBuilder(issuer Issuer) *Builder { return &Builder{issuer: issuer} }

// Issuer returns the configured issuer.
func (b *Builder) Issuer() Issuer { return b.issuer }

// Emission builds the submission payload for a finalized sale.
func (b *Builder) Emission(info DocumentInfo, sale *model.Sale) (*Prepared, error) {
	if len(sale.Lines) == 0 {
		return nil, fmt.Errorf("%w: sale %s has no lines", ErrInvalidPayload, sale.ID)
	}
	if len(sale.Payments) == 0 && sale.Total.IsPositive() {
		return nil, fmt.Errorf("%w: sale %s has no payments", ErrInvalidPayload, sale.ID)
	}
	for _, l := range sale.Lines {
		if err := checkLine(l); err != nil {
			return nil, err
		}
	}

	switch info.Kind {
	case KindNFCe:
		key, err := BuildAccessKey(KeyParts{
			State:        b.issuer.Address.State,
			IssuedAt:     info.IssuedAt,
			CNPJ:         b.issuer.CNPJ,
			Model:        KindNFCe.Model(),
			Series:       b.issuer.Series,
			Number:       info.Number,
			EmissionType: 1,
			NumericCode:  NumericCode(info.DocumentID),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		payload, err := b.nfce(key, info, sale)
		if err != nil {
			return nil, err
		}
		return &Prepared{AccessKey: key, Payload: payload}, nil
	case KindSAT:
		payload, err := b.sat(info, sale)
		if err != nil {
			return nil, err
		}
		return &Prepared{Payload: payload}, nil
	}
	return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidPayload, info.Kind)
}

// Cancellation builds the cancellation payload for an accepted document.
func (b *Builder) Cancellation(info CancelInfo) ([]byte, error) {
	if info.AccessKey == "" {
		return nil, fmt.Errorf("%w: cancellation without access key", ErrInvalidPayload)
	}
	switch info.Kind {
	case KindNFCe:
		return b.nfceCancellation(info)
	case KindSAT:
		return b.satCancellation(info)
	}
	return nil, fmt.Errorf("%w: unsupported kind %q", ErrInvalidPayload, info.Kind)
}

// ── Shared helpers ────────────────────────────────────────────────────────────

func checkLine(l model.SaleLine) error {
	switch {
	case len(l.TaxClassification) != 8 || !isDigits(l.TaxClassification):
		return fmt.Errorf("%w: line %d: tax classification %q must have 8 digits", ErrInvalidPayload, l.Position, l.TaxClassification)
	case len(l.FiscalOperationCode) != 4 || !isDigits(l.FiscalOperationCode):
		return fmt.Errorf("%w: line %d: operation code %q must have 4 digits", ErrInvalidPayload, l.Position, l.FiscalOperationCode)
	case len(l.TaxOrigin) != 1 || !isDigits(l.TaxOrigin):
		return fmt.Errorf("%w: line %d: origin %q must be one digit", ErrInvalidPayload, l.Position, l.TaxOrigin)
	}
	if _, ok := taxGroups[l.TaxSituationCode]; !ok {
		return fmt.Errorf("%w: line %d: unsupported tax situation %q", ErrInvalidPayload, l.Position, l.TaxSituationCode)
	}
	return nil
}

type taxGroup int

const (
	taxedFull  taxGroup = iota // ICMS00
	taxExempt                  // ICMS40
	taxSimples                 // ICMSSN102
)

var taxGroups = map[string]taxGroup{
	"00":  taxedFull,
	"40":  taxExempt,
	"41":  taxExempt,
	"50":  taxExempt,
	"102": taxSimples,
	"103": taxSimples,
	"300": taxSimples,
	"400": taxSimples,
}

var cent = decimal.New(1, -2)

// apportionDiscount splits a sale-level discount across lines in proportion
// to their totals. Shares are truncated to cents and the leftover cents go to
// the first lines that still have room, so shares sum exactly to discount and
// no share exceeds its line total.
func apportionDiscount(lines []model.SaleLine, discount decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(lines))
	subtotal := decimal.Zero
	for i, l := range lines {
		shares[i] = decimal.Zero
		subtotal = subtotal.Add(l.Total)
	}
	if !discount.IsPositive() || !subtotal.IsPositive() {
		return shares
	}
	assigned := decimal.Zero
	for i, l := range lines {
		shares[i] = discount.Mul(l.Total).Div(subtotal).Truncate(2)
		assigned = assigned.Add(shares[i])
	}
	remainder := discount.Sub(assigned)
	for guard := 0; remainder.IsPositive() && guard < 4*len(lines); guard++ {
		i := guard % len(lines)
		if shares[i].Add(cent).LessThanOrEqual(lines[i].Total) {
			shares[i] = shares[i].Add(cent)
			remainder = remainder.Sub(cent)
		}
	}
	return shares
}

// paymentCodes maps payment methods to tPag / cMP codes.
var paymentCodes = map[string]string{
	model.PaymentCash:            "01",
	model.PaymentCreditCard:      "03",
	model.PaymentDebitCard:       "04",
	model.PaymentInstantTransfer: "17",
	model.PaymentOther:           "99",
}

// Codes declared for a zero-total sale settled without any tender.
const (
	nfceNoPayment = "90"
	satNoPayment  = "99"
)

func paymentCode(method string) string {
	if c, ok := paymentCodes[method]; ok {
		return c
	}
	return "99"
}

type tender struct {
	code   string
	amount string
}

// tenders lists the payment entries of a sale, or a single zero entry with
// noPayment when the sale carries none.
func tenders(sale *model.Sale, noPayment string) []tender {
	if len(sale.Payments) == 0 {
		return []tender{{code: noPayment, amount: Money(decimal.Zero)}}
	}
	out := make([]tender, len(sale.Payments))
	for i, p := range sale.Payments {
		out[i] = tender{code: paymentCode(p.Method), amount: Money(p.Amount)}
	}
	return out
}

func additionalInfo(info DocumentInfo, sale *model.Sale) string {
	return fmt.Sprintf("CAIXA %s VENDA %s OPERADOR %s", info.RegisterCode, sale.SequenceNumber, sale.OperatorID)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func cashierNumber(code string) (string, error) {
	if code == "" || len(code) > 3 || !isDigits(code) {
		return "", fmt.Errorf("%w: register code %q must have 1 to 3 digits", ErrInvalidPayload, code)
	}
	for len(code) < 3 {
		code = "0" + code
	}
	return code, nil
}

func marshal(v interface{}) ([]byte, error) {
	out, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return append([]byte(xml.Header), out...), nil
}
