package fiscal

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"pdv/internal/model"

	"github.com/shopspring/decimal"
)

const (
	nfeNamespace   = "http://www.portalfiscal.inf.br/nfe"
	nfeVersion     = "4.00"
	eventVersion   = "1.00"
	softwareName   = "pdv"
	cancelEvent    = "110111"
	timestampShape = "2006-01-02T15:04:05-07:00"
)

type nfe struct {
	XMLName xml.Name `xml:"NFe"`
	Xmlns   string   `xml:"xmlns,attr"`
	Inf     nfeInf   `xml:"infNFe"`
}

type nfeInf struct {
	Version string    `xml:"versao,attr"`
	ID      string    `xml:"Id,attr"`
	Ide     nfeIde    `xml:"ide"`
	Emit    nfeEmit   `xml:"emit"`
	Det     []nfeDet  `xml:"det"`
	Total   nfeTotal  `xml:"total"`
	Transp  nfeTransp `xml:"transp"`
	Pag     nfePag    `xml:"pag"`
	InfAdic infAdic   `xml:"infAdic"`
}

type nfeIde struct {
	CUF      string `xml:"cUF"`
	CNF      string `xml:"cNF"`
	NatOp    string `xml:"natOp"`
	Mod      string `xml:"mod"`
	Serie    int    `xml:"serie"`
	NNF      int64  `xml:"nNF"`
	DhEmi    string `xml:"dhEmi"`
	TpNF     int    `xml:"tpNF"`
	IdDest   int    `xml:"idDest"`
	CMunFG   string `xml:"cMunFG"`
	TpImp    int    `xml:"tpImp"`
	TpEmis   int    `xml:"tpEmis"`
	CDV      string `xml:"cDV"`
	TpAmb    int    `xml:"tpAmb"`
	FinNFe   int    `xml:"finNFe"`
	IndFinal int    `xml:"indFinal"`
	IndPres  int    `xml:"indPres"`
	ProcEmi  int    `xml:"procEmi"`
	VerProc  string `xml:"verProc"`
}

type nfeEmit struct {
	CNPJ  string     `xml:"CNPJ"`
	XNome string     `xml:"xNome"`
	XFant string     `xml:"xFant,omitempty"`
	Ender nfeAddress `xml:"enderEmit"`
	IE    string     `xml:"IE"`
	IM    string     `xml:"IM,omitempty"`
	CRT   int        `xml:"CRT"`
}

type nfeAddress struct {
	XLgr    string `xml:"xLgr"`
	Nro     string `xml:"nro"`
	XBairro string `xml:"xBairro"`
	CMun    string `xml:"cMun"`
	XMun    string `xml:"xMun"`
	UF      string `xml:"UF"`
	CEP     string `xml:"CEP"`
	CPais   string `xml:"cPais"`
	XPais   string `xml:"xPais"`
}

type nfeDet struct {
	NItem   int        `xml:"nItem,attr"`
	Prod    nfeProd    `xml:"prod"`
	Imposto nfeImposto `xml:"imposto"`
}

type nfeProd struct {
	CProd    string `xml:"cProd"`
	CEAN     string `xml:"cEAN"`
	XProd    string `xml:"xProd"`
	NCM      string `xml:"NCM"`
	CFOP     string `xml:"CFOP"`
	UCom     string `xml:"uCom"`
	QCom     string `xml:"qCom"`
	VUnCom   string `xml:"vUnCom"`
	VProd    string `xml:"vProd"`
	CEANTrib string `xml:"cEANTrib"`
	UTrib    string `xml:"uTrib"`
	QTrib    string `xml:"qTrib"`
	VUnTrib  string `xml:"vUnTrib"`
	VDesc    string `xml:"vDesc,omitempty"`
	IndTot   int    `xml:"indTot"`
}

type nfeImposto struct {
	ICMS icmsGroup `xml:"ICMS"`
}

type icmsGroup struct {
	ICMS00    *icms00    `xml:"ICMS00,omitempty"`
	ICMS40    *icms40    `xml:"ICMS40,omitempty"`
	ICMSSN102 *icmsSN102 `xml:"ICMSSN102,omitempty"`
}

type icms00 struct {
	Orig  string `xml:"orig"`
	CST   string `xml:"CST"`
	ModBC *int   `xml:"modBC,omitempty"`
	VBC   string `xml:"vBC,omitempty"`
	PICMS string `xml:"pICMS"`
	VICMS string `xml:"vICMS,omitempty"`
}

type icms40 struct {
	Orig string `xml:"orig"`
	CST  string `xml:"CST"`
}

type icmsSN102 struct {
	Orig  string `xml:"orig"`
	CSOSN string `xml:"CSOSN"`
}

type nfeTotal struct {
	ICMSTot icmsTot `xml:"ICMSTot"`
}

type icmsTot struct {
	VBC   string `xml:"vBC"`
	VICMS string `xml:"vICMS"`
	VProd string `xml:"vProd"`
	VDesc string `xml:"vDesc"`
	VNF   string `xml:"vNF"`
}

type nfeTransp struct {
	ModFrete int `xml:"modFrete"`
}

type nfePag struct {
	DetPag []detPag `xml:"detPag"`
	VTroco string   `xml:"vTroco,omitempty"`
}

type detPag struct {
	TPag string `xml:"tPag"`
	VPag string `xml:"vPag"`
}

type infAdic struct {
	InfCpl string `xml:"infCpl"`
}

func (b *Builder) nfce(key string, info DocumentInfo, sale *model.Sale) ([]byte, error) {
	iss := b.issuer
	uf, _ := StateCode(iss.Address.State)

	shares := apportionDiscount(sale.Lines, sale.Discount)
	baseTotal, taxTotal, productTotal := decimal.Zero, decimal.Zero, decimal.Zero
	det := make([]nfeDet, 0, len(sale.Lines))
	for i, l := range sale.Lines {
		prod := nfeProd{
			CProd:    l.ProductCode,
			CEAN:     "SEM GTIN",
			XProd:    truncate(l.ProductName, 120),
			NCM:      l.TaxClassification,
			CFOP:     l.FiscalOperationCode,
			UCom:     l.Unit,
			QCom:     Quantity(l.Quantity, l.Unit),
			VUnCom:   Money(l.UnitPrice),
			VProd:    Money(l.Total),
			CEANTrib: "SEM GTIN",
			UTrib:    l.Unit,
			QTrib:    Quantity(l.Quantity, l.Unit),
			VUnTrib:  Money(l.UnitPrice),
			IndTot:   1,
		}
		if shares[i].IsPositive() {
			prod.VDesc = Money(shares[i])
		}
		productTotal = productTotal.Add(l.Total)

		var icms icmsGroup
		switch taxGroups[l.TaxSituationCode] {
		case taxedFull:
			base := l.Total.Sub(shares[i])
			tax := TaxAmount(base, l.TaxRate)
			modBC := 3
			icms.ICMS00 = &icms00{
				Orig: l.TaxOrigin, CST: l.TaxSituationCode, ModBC: &modBC,
				VBC: Money(base), PICMS: Percent(l.TaxRate), VICMS: Money(tax),
			}
			baseTotal = baseTotal.Add(base)
			taxTotal = taxTotal.Add(tax)
		case taxExempt:
			icms.ICMS40 = &icms40{Orig: l.TaxOrigin, CST: l.TaxSituationCode}
		case taxSimples:
			icms.ICMSSN102 = &icmsSN102{Orig: l.TaxOrigin, CSOSN: l.TaxSituationCode}
		}
		det = append(det, nfeDet{NItem: i + 1, Prod: prod, Imposto: nfeImposto{ICMS: icms}})
	}

	pag := nfePag{}
	for _, t := range tenders(sale, nfceNoPayment) {
		pag.DetPag = append(pag.DetPag, detPag{TPag: t.code, VPag: t.amount})
	}
	if sale.Change.IsPositive() {
		pag.VTroco = Money(sale.Change)
	}

	doc := nfe{
		Xmlns: nfeNamespace,
		Inf: nfeInf{
			Version: nfeVersion,
			ID:      "NFe" + key,
			Ide: nfeIde{
				CUF:      uf,
				CNF:      fmt.Sprintf("%08d", NumericCode(info.DocumentID)),
				NatOp:    "VENDA",
				Mod:      KindNFCe.Model(),
				Serie:    iss.Series,
				NNF:      info.Number,
				DhEmi:    info.IssuedAt.Format(timestampShape),
				TpNF:     1,
				IdDest:   1,
				CMunFG:   iss.Address.CityCode,
				TpImp:    4,
				TpEmis:   1,
				CDV:      key[len(key)-1:],
				TpAmb:    iss.Environment,
				FinNFe:   1,
				IndFinal: 1,
				IndPres:  1,
				ProcEmi:  0,
				VerProc:  softwareName,
			},
			Emit: nfeEmit{
				CNPJ:  iss.CNPJ,
				XNome: truncate(iss.Name, 60),
				XFant: truncate(iss.TradeName, 60),
				Ender: nfeAddress{
					XLgr:    iss.Address.Street,
					Nro:     iss.Address.Number,
					XBairro: iss.Address.District,
					CMun:    iss.Address.CityCode,
					XMun:    iss.Address.City,
					UF:      iss.Address.State,
					CEP:     iss.Address.ZipCode,
					CPais:   "1058",
					XPais:   "BRASIL",
				},
				IE:  iss.stateRegistration(),
				IM:  iss.MunicipalRegistration,
				CRT: iss.TaxRegime,
			},
			Det: det,
			Total: nfeTotal{ICMSTot: icmsTot{
				VBC:   Money(baseTotal),
				VICMS: Money(taxTotal),
				VProd: Money(productTotal),
				VDesc: Money(sale.Discount),
				VNF:   Money(sale.Total),
			}},
			Transp:  nfeTransp{ModFrete: 9},
			Pag:     pag,
			InfAdic: infAdic{InfCpl: additionalInfo(info, sale)},
		},
	}
	return marshal(doc)
}

// ── Cancellation event ────────────────────────────────────────────────────────

type envEvento struct {
	XMLName xml.Name `xml:"envEvento"`
	Xmlns   string   `xml:"xmlns,attr"`
	Versao  string   `xml:"versao,attr"`
	IdLote  string   `xml:"idLote"`
	Evento  evento   `xml:"evento"`
}

type evento struct {
	Versao string    `xml:"versao,attr"`
	Inf    infEvento `xml:"infEvento"`
}

type infEvento struct {
	ID         string    `xml:"Id,attr"`
	COrgao     string    `xml:"cOrgao"`
	TpAmb      int       `xml:"tpAmb"`
	CNPJ       string    `xml:"CNPJ"`
	ChNFe      string    `xml:"chNFe"`
	DhEvento   string    `xml:"dhEvento"`
	TpEvento   string    `xml:"tpEvento"`
	NSeqEvento int       `xml:"nSeqEvento"`
	VerEvento  string    `xml:"verEvento"`
	Det        detEvento `xml:"detEvento"`
}

type detEvento struct {
	Versao     string `xml:"versao,attr"`
	DescEvento string `xml:"descEvento"`
	NProt      string `xml:"nProt"`
	XJust      string `xml:"xJust"`
}

func (b *Builder) nfceCancellation(info CancelInfo) ([]byte, error) {
	if info.Protocol == "" {
		return nil, fmt.Errorf("%w: cancellation without authorization protocol", ErrInvalidPayload)
	}
	uf, _ := StateCode(b.issuer.Address.State)
	doc := envEvento{
		Xmlns:  nfeNamespace,
		Versao: eventVersion,
		IdLote: strconv.FormatInt(info.Number, 10),
		Evento: evento{
			Versao: eventVersion,
			Inf: infEvento{
				ID:         "ID" + cancelEvent + info.AccessKey + "01",
				COrgao:     uf,
				TpAmb:      b.issuer.Environment,
				CNPJ:       b.issuer.CNPJ,
				ChNFe:      info.AccessKey,
				DhEvento:   info.RequestedAt.Format(timestampShape),
				TpEvento:   cancelEvent,
				NSeqEvento: 1,
				VerEvento:  eventVersion,
				Det: detEvento{
					Versao:     eventVersion,
					DescEvento: "Cancelamento",
					NProt:      info.Protocol,
					XJust:      truncate(info.Justification, 255),
				},
			},
		},
	}
	return marshal(doc)
}
