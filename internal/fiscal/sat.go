package fiscal

import (
	"encoding/xml"

	"pdv/internal/model"
)

const satLayoutVersion = "0.08"

type cfe struct {
	XMLName xml.Name `xml:"CFe"`
	Inf     cfeInf   `xml:"infCFe"`
}

type cfeInf struct {
	VersaoDadosEnt string   `xml:"versaoDadosEnt,attr"`
	Ide            cfeIde   `xml:"ide"`
	Emit           cfeEmit  `xml:"emit"`
	Dest           struct{} `xml:"dest"`
	Det            []cfeDet `xml:"det"`
	Total          cfeTotal `xml:"total"`
	Pgto           cfePgto  `xml:"pgto"`
	InfAdic        infAdic  `xml:"infAdic"`
}

// cfeIde holds only the fields the integrating application fills in; the
// device assigns number, key, timestamps and signature.
type cfeIde struct {
	CNPJ        string `xml:"CNPJ"`
	SignAC      string `xml:"signAC"`
	NumeroCaixa string `xml:"numeroCaixa"`
}

type cfeEmit struct {
	CNPJ        string `xml:"CNPJ"`
	IE          string `xml:"IE"`
	IM          string `xml:"IM,omitempty"`
	IndRatISSQN string `xml:"indRatISSQN"`
}

type cfeDet struct {
	NItem   int        `xml:"nItem,attr"`
	Prod    cfeProd    `xml:"prod"`
	Imposto cfeImposto `xml:"imposto"`
}

type cfeProd struct {
	CProd    string `xml:"cProd"`
	XProd    string `xml:"xProd"`
	NCM      string `xml:"NCM"`
	CFOP     string `xml:"CFOP"`
	UCom     string `xml:"uCom"`
	QCom     string `xml:"qCom"`
	VUnCom   string `xml:"vUnCom"`
	IndRegra string `xml:"indRegra"`
}

type cfeImposto struct {
	ICMS   cfeICMS   `xml:"ICMS"`
	PIS    cfePIS    `xml:"PIS"`
	COFINS cfeCOFINS `xml:"COFINS"`
}

type cfeICMS struct {
	ICMS00    *cfeICMS00 `xml:"ICMS00,omitempty"`
	ICMS40    *icms40    `xml:"ICMS40,omitempty"`
	ICMSSN102 *icmsSN102 `xml:"ICMSSN102,omitempty"`
}

type cfeICMS00 struct {
	Orig  string `xml:"Orig"`
	CST   string `xml:"CST"`
	PICMS string `xml:"pICMS"`
}

type cfePIS struct {
	PISNT cstOnly `xml:"PISNT"`
}

type cfeCOFINS struct {
	COFINSNT cstOnly `xml:"COFINSNT"`
}

type cstOnly struct {
	CST string `xml:"CST"`
}

type cfeTotal struct {
	DescAcrEntr *descAcrEntr `xml:"DescAcrEntr,omitempty"`
}

type descAcrEntr struct {
	VDescSubtot string `xml:"vDescSubtot"`
}

type cfePgto struct {
	MP []cfeMP `xml:"MP"`
}

type cfeMP struct {
	CMP string `xml:"cMP"`
	VMP string `xml:"vMP"`
}

// sat builds the CF-e input layout. The discount is sent once at subtotal
// level; the device apportions it.
func (b *Builder) sat(info DocumentInfo, sale *model.Sale) ([]byte, error) {
	iss := b.issuer
	caixa, err := cashierNumber(info.RegisterCode)
	if err != nil {
		return nil, err
	}

	det := make([]cfeDet, 0, len(sale.Lines))
	for i, l := range sale.Lines {
		var icms cfeICMS
		switch taxGroups[l.TaxSituationCode] {
		case taxedFull:
			icms.ICMS00 = &cfeICMS00{Orig: l.TaxOrigin, CST: l.TaxSituationCode, PICMS: Percent(l.TaxRate)}
		case taxExempt:
			icms.ICMS40 = &icms40{Orig: l.TaxOrigin, CST: l.TaxSituationCode}
		case taxSimples:
			icms.ICMSSN102 = &icmsSN102{Orig: l.TaxOrigin, CSOSN: l.TaxSituationCode}
		}
		det = append(det, cfeDet{
			NItem: i + 1,
			Prod: cfeProd{
				CProd:    l.ProductCode,
				XProd:    truncate(l.ProductName, 120),
				NCM:      l.TaxClassification,
				CFOP:     l.FiscalOperationCode,
				UCom:     l.Unit,
				QCom:     Quantity(l.Quantity, l.Unit),
				VUnCom:   Money(l.UnitPrice),
				IndRegra: "A",
			},
			Imposto: cfeImposto{
				ICMS:   icms,
				PIS:    cfePIS{PISNT: cstOnly{CST: "07"}},
				COFINS: cfeCOFINS{COFINSNT: cstOnly{CST: "07"}},
			},
		})
	}

	var total cfeTotal
	if sale.Discount.IsPositive() {
		total.DescAcrEntr = &descAcrEntr{VDescSubtot: Money(sale.Discount)}
	}

	var pgto cfePgto
	for _, t := range tenders(sale, satNoPayment) {
		pgto.MP = append(pgto.MP, cfeMP{CMP: t.code, VMP: t.amount})
	}

	doc := cfe{Inf: cfeInf{
		VersaoDadosEnt: satLayoutVersion,
		Ide: cfeIde{
			CNPJ:        iss.SoftwareHouseCNPJ,
			SignAC:      iss.SignAC,
			NumeroCaixa: caixa,
		},
		Emit: cfeEmit{
			CNPJ:        iss.CNPJ,
			IE:          iss.stateRegistration(),
			IM:          iss.MunicipalRegistration,
			IndRatISSQN: "N",
		},
		Det:     det,
		Total:   total,
		Pgto:    pgto,
		InfAdic: infAdic{InfCpl: additionalInfo(info, sale)},
	}}
	return marshal(doc)
}

// ── Cancellation ──────────────────────────────────────────────────────────────

type cfeCanc struct {
	XMLName xml.Name   `xml:"CFeCanc"`
	Inf     cfeCancInf `xml:"infCFe"`
}

type cfeCancInf struct {
	ChCanc    string    `xml:"chCanc,attr"`
	Ide       cfeIde    `xml:"ide"`
	Emit      struct{}  `xml:"emit"`
	Dest      struct{}  `xml:"dest"`
	Total     struct{}  `xml:"total"`
	DadosCanc dadosCanc `xml:"dadosCanc"`
}

type dadosCanc struct {
	XJust string `xml:"xJust"`
}

func (b *Builder) satCancellation(info CancelInfo) ([]byte, error) {
	caixa, err := cashierNumber(info.RegisterCode)
	if err != nil {
		return nil, err
	}
	doc := cfeCanc{Inf: cfeCancInf{
		ChCanc: "CFe" + info.AccessKey,
		Ide: cfeIde{
			CNPJ:        b.issuer.SoftwareHouseCNPJ,
			SignAC:      b.issuer.SignAC,
			NumeroCaixa: caixa,
		},
		DadosCanc: dadosCanc{XJust: truncate(info.Justification, 255)},
	}}
	return marshal(doc)
}
