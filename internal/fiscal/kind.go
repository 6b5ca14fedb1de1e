// Package fiscal builds fiscal-document payloads and defines the transport
// contract to the tax authority. It holds no state: documents are persisted
// and driven by the fiscal service.
package fiscal

// Kind identifies a fiscal document flavor.
type Kind string

const (
	// KindNFCe is the consumer invoice authorized by the state authority web service.
	KindNFCe Kind = "nfce"
	// KindSAT is the consumer receipt signed by a local tax-authority device.
	KindSAT Kind = "cfe-sat"
)

// ParseKind validates a kind received from a caller.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindNFCe, KindSAT:
		return Kind(s), true
	}
	return "", false
}

// Model is the document model code printed in the payload and access key.
func (k Kind) Model() string {
	if k == KindSAT {
		return "59"
	}
	return "65"
}

// KeyedBeforeSubmit reports whether the emitter assigns the access key itself.
// Device-signed documents receive their key from the device.
func (k Kind) KeyedBeforeSubmit() bool { return k == KindNFCe }
