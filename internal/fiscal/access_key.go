package fiscal

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// stateCodes maps a UF to its IBGE numeric code, the first two digits of the key.
var stateCodes = map[string]string{
	"RO": "11", "AC": "12", "AM": "13", "RR": "14", "PA": "15", "AP": "16", "TO": "17",
	"MA": "21", "PI": "22", "CE": "23", "RN": "24", "PB": "25", "PE": "26", "AL": "27",
	"SE": "28", "BA": "29", "MG": "31", "ES": "32", "RJ": "33", "SP": "35", "PR": "41",
	"SC": "42", "RS": "43", "MS": "50", "MT": "51", "GO": "52", "DF": "53",
}

// StateCode returns the IBGE code for uf.
func StateCode(uf string) (string, bool) {
	c, ok := stateCodes[strings.ToUpper(uf)]
	return c, ok
}

// KeyParts are the fields encoded into a 44-digit access key.
type KeyParts struct {
	State        string // UF, e.g. "SP"
	IssuedAt     time.Time
	CNPJ         string // 14 digits
	Model        string // "65"
	Series       int
	Number       int64
	EmissionType int // 1 = normal
	NumericCode  int // 8 digits
}

// BuildAccessKey assembles the key and appends its mod-11 check digit.
func BuildAccessKey(p KeyParts) (string, error) {
	uf, ok := StateCode(p.State)
	if !ok {
		return "", fmt.Errorf("access key: unknown state %q", p.State)
	}
	if len(p.CNPJ) != 14 || !isDigits(p.CNPJ) {
		return "", fmt.Errorf("access key: CNPJ must have 14 digits")
	}
	if p.Series < 0 || p.Series > 999 {
		return "", fmt.Errorf("access key: series %d out of range", p.Series)
	}
	if p.Number < 1 || p.Number > 999999999 {
		return "", fmt.Errorf("access key: number %d out of range", p.Number)
	}
	base := fmt.Sprintf("%s%s%s%s%03d%09d%d%08d",
		uf, p.IssuedAt.Format("0601"), p.CNPJ, p.Model,
		p.Series, p.Number, p.EmissionType, p.NumericCode%100000000)
	return base + fmt.Sprint(CheckDigit(base)), nil
}

// CheckDigit computes the mod-11 digit: weights 2..9 from the rightmost digit,
// remainders 0 and 1 yield 0.
func CheckDigit(base string) int {
	sum, weight := 0, 2
	for i := len(base) - 1; i >= 0; i-- {
		sum += int(base[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

// ValidAccessKey checks length, digits and check digit.
func ValidAccessKey(key string) bool {
	if len(key) != 44 || !isDigits(key) {
		return false
	}
	return CheckDigit(key[:43]) == int(key[43]-'0')
}

// NumericCode derives the key's 8-digit random component from the document
// id, so every attempt for the same document yields the same key.
func NumericCode(id uuid.UUID) int {
	return int(binary.BigEndian.Uint32(id[:4]) % 100000000)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// KindOfKey reads the document model out of a key (digits 21-22).
func KindOfKey(key string) (Kind, bool) {
	if len(key) != 44 {
		return "", false
	}
	switch key[20:22] {
	case KindNFCe.Model():
		return KindNFCe, true
	case KindSAT.Model():
		return KindSAT, true
	}
	return "", false
}
