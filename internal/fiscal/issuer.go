package fiscal

import (
	"errors"
	"strings"
)

// Address is the issuer's establishment address.
type Address struct {
	Street   string
	Number   string
	District string
	CityCode string // IBGE municipality code
	City     string
	State    string // UF
	ZipCode  string
}

// Issuer is the emitting establishment, loaded from configuration.
type Issuer struct {
	CNPJ                  string
	Name                  string
	TradeName             string
	StateRegistration     string
	MunicipalRegistration string
	TaxRegime             int // CRT: 1 simples nacional, 3 regime normal
	Address               Address
	Environment           int // tpAmb: 1 production, 2 homologation
	Series                int

	// Device-signed documents.
	SoftwareHouseCNPJ string
	SignAC            string
	DeviceSerial      string
}

// Validate checks the fields every payload needs.
func (i Issuer) Validate() error {
	var missing []string
	if len(i.CNPJ) != 14 || !isDigits(i.CNPJ) {
		missing = append(missing, "CNPJ (14 digits)")
	}
	if i.Name == "" {
		missing = append(missing, "name")
	}
	if _, ok := StateCode(i.Address.State); !ok {
		missing = append(missing, "address state")
	}
	if i.Environment != 1 && i.Environment != 2 {
		missing = append(missing, "environment (1 or 2)")
	}
	if len(missing) > 0 {
		return errors.New("fiscal issuer: invalid " + strings.Join(missing, ", "))
	}
	return nil
}

func (i Issuer) stateRegistration() string {
	if i.StateRegistration == "" {
		return "ISENTO"
	}
	return i.StateRegistration
}
