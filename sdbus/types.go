package sdbus

import "fmt"

// A Type is a single-character D-Bus wire type tag.
//
// Container values carry the struct and dict-entry tags 'r' and 'e'
// when probed with [Iterator.PeekType], even though type signatures
// spell them "(...)" and "{...}".
type Type byte

const (
	TypeInvalid    Type = 0
	TypeByte       Type = 'y'
	TypeBoolean    Type = 'b'
	TypeInt16      Type = 'n'
	TypeUint16     Type = 'q'
	TypeInt32      Type = 'i'
	TypeUint32     Type = 'u'
	TypeInt64      Type = 'x'
	TypeUint64     Type = 't'
	TypeDouble     Type = 'd'
	TypeString     Type = 's'
	TypeObjectPath Type = 'o'
	TypeSignature  Type = 'g'
	TypeUnixFD     Type = 'h'
	TypeArray      Type = 'a'
	TypeVariant    Type = 'v'
	TypeStruct     Type = 'r'
	TypeDictEntry  Type = 'e'
)

func (t Type) String() string {
	switch t {
	case TypeInvalid:
		return "invalid"
	case TypeStruct:
		return "struct"
	case TypeDictEntry:
		return "dict entry"
	default:
		return string(byte(t))
	}
}

// IsBasic reports whether t is a fixed or string-like non-container
// type.
func (t Type) IsBasic() bool {
	switch t {
	case TypeByte, TypeBoolean, TypeInt16, TypeUint16, TypeInt32, TypeUint32,
		TypeInt64, TypeUint64, TypeDouble, TypeString, TypeObjectPath,
		TypeSignature, TypeUnixFD:
		return true
	}
	return false
}

// IsContainer reports whether t is a container type.
func (t Type) IsContainer() bool {
	switch t {
	case TypeArray, TypeVariant, TypeStruct, TypeDictEntry:
		return true
	}
	return false
}

// align returns the wire alignment of values of type t.
func (t Type) align() int {
	switch t {
	case TypeByte, TypeSignature, TypeVariant:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeBoolean, TypeInt32, TypeUint32, TypeString, TypeObjectPath,
		TypeUnixFD, TypeArray:
		return 4
	case TypeInt64, TypeUint64, TypeDouble, TypeStruct, TypeDictEntry:
		return 8
	}
	return 1
}

// firstType splits sig into its leading complete type and the
// remainder. For containers, contents holds the inner signature: the
// element type for arrays, the field types for structs, the
// key-then-value types for dict entries, and "" for variants (whose
// contents are carried in the serialized value, not the signature).
func firstType(sig string) (t Type, contents, rest string, err error) {
	if sig == "" {
		return TypeInvalid, "", "", nil
	}
	switch c := sig[0]; {
	case Type(c).IsBasic(), c == 'v':
		return Type(c), "", sig[1:], nil
	case c == 'a':
		et, ec, rest, err := firstType(sig[1:])
		if err != nil {
			return TypeInvalid, "", "", err
		}
		if et == TypeInvalid {
			return TypeInvalid, "", "", fmt.Errorf("array type %q missing element type", sig)
		}
		// Reconstitute the element's full signature text.
		elem := sig[1 : len(sig)-len(rest)]
		_, _ = et, ec
		return TypeArray, elem, rest, nil
	case c == '(':
		depth := 1
		for i := 1; i < len(sig); i++ {
			switch sig[i] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return TypeStruct, sig[1:i], sig[i+1:], nil
				}
			}
		}
		return TypeInvalid, "", "", fmt.Errorf("unterminated struct in signature %q", sig)
	case c == '{':
		depth := 1
		for i := 1; i < len(sig); i++ {
			switch sig[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return TypeDictEntry, sig[1:i], sig[i+1:], nil
				}
			}
		}
		return TypeInvalid, "", "", fmt.Errorf("unterminated dict entry in signature %q", sig)
	default:
		return TypeInvalid, "", "", fmt.Errorf("unknown type tag %q in signature", sig[0])
	}
}

// signatureText returns the signature spelling for a container of
// kind t with the given contents, e.g. ('r', "si") -> "(si)".
func signatureText(t Type, contents string) string {
	switch t {
	case TypeArray:
		return "a" + contents
	case TypeStruct:
		return "(" + contents + ")"
	case TypeDictEntry:
		return "{" + contents + "}"
	case TypeVariant:
		return "v"
	}
	return string(byte(t))
}

// validSignature checks that sig is a sequence of complete types.
func validSignature(sig string) error {
	for sig != "" {
		t, _, rest, err := firstType(sig)
		if err != nil {
			return err
		}
		if t == TypeInvalid {
			break
		}
		sig = rest
	}
	return nil
}
