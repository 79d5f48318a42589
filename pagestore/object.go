package pagestore

import "fmt"

// Kind is the type of a catalog object. Only sequences own a page; the other
// kinds exist so that callers can be refused when they name the wrong thing.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindSequence
	KindTable
	KindView
)

func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "sequence"
	case KindTable:
		return "table"
	case KindView:
		return "view"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindSequence, KindTable, KindView} {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUndefined, fmt.Errorf("%q: %w", s, ErrBadKind)
}

// Object is a catalog entry.
type Object struct {
	ID   uint64 `cbor:"1,keyasint"`
	Name string `cbor:"2,keyasint"`
	Kind Kind   `cbor:"3,keyasint"`
	// Generation identifies the current storage of the object. It changes
	// each time the storage is replaced, and durability records tagged with an
	// older generation no longer apply.
	Generation uint64 `cbor:"4,keyasint"`
}

// Page is a page image to be written back to the page file.
type Page struct {
	ID         uint64
	Generation uint64
	Data       []byte
}
