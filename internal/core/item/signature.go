package item

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Signature is the structural identity of a stackable item kind: the material
// plus every piece of metadata that keeps two stacks from merging. Two
// signatures built from equal inputs compare equal with ==.
type Signature struct {
	material string
	meta     string
	hash     uint64
}

// Enchantment is identity-affecting metadata.
type Enchantment struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// NewSignature builds a signature. Enchantments are order independent and
// the material is upper-cased.
func NewSignature(material string, enchantments ...Enchantment) Signature {
	material = strings.ToUpper(strings.TrimSpace(material))

	meta := ""
	if len(enchantments) > 0 {
		sorted := make([]Enchantment, len(enchantments))
		for i, e := range enchantments {
			sorted[i] = Enchantment{Name: strings.ToLower(e.Name), Level: e.Level}
		}
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].Name != sorted[j].Name {
				return sorted[i].Name < sorted[j].Name
			}
			return sorted[i].Level < sorted[j].Level
		})
		var b strings.Builder
		for i, e := range sorted {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(e.Name)
			b.WriteByte('=')
			b.WriteString(strconv.Itoa(e.Level))
		}
		meta = b.String()
	}

	return Signature{
		material: material,
		meta:     meta,
		hash:     xxhash.Sum64String(material + "|" + meta),
	}
}

// ParseSignature is the inverse of Signature.String.
func ParseSignature(s string) (Signature, error) {
	material, meta, _ := strings.Cut(s, "{")
	if material == "" {
		return Signature{}, ErrInvalidSignature
	}
	if meta == "" {
		return NewSignature(material), nil
	}
	meta, ok := strings.CutSuffix(meta, "}")
	if !ok {
		return Signature{}, ErrInvalidSignature
	}

	var enchantments []Enchantment
	for _, part := range strings.Split(meta, ";") {
		name, lvl, found := strings.Cut(part, "=")
		if !found || name == "" {
			return Signature{}, ErrInvalidSignature
		}
		level, err := strconv.Atoi(lvl)
		if err != nil {
			return Signature{}, ErrInvalidSignature
		}
		enchantments = append(enchantments, Enchantment{Name: name, Level: level})
	}
	return NewSignature(material, enchantments...), nil
}

func (s Signature) Material() string { return s.material }

func (s Signature) IsZero() bool { return s.material == "" }

// Hash is a stable 64-bit digest of the signature.
func (s Signature) Hash() uint64 { return s.hash }

// Enchantments decodes the identity metadata.
func (s Signature) Enchantments() []Enchantment {
	if s.meta == "" {
		return nil
	}
	parts := strings.Split(s.meta, ";")
	out := make([]Enchantment, 0, len(parts))
	for _, p := range parts {
		name, lvl, _ := strings.Cut(p, "=")
		level, _ := strconv.Atoi(lvl)
		out = append(out, Enchantment{Name: name, Level: level})
	}
	return out
}

// String renders MATERIAL or MATERIAL{name=level;...}.
func (s Signature) String() string {
	if s.meta == "" {
		return s.material
	}
	return s.material + "{" + s.meta + "}"
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Stack is a signature with a quantity attached.
type Stack struct {
	Signature Signature `json:"signature"`
	Quantity  int64     `json:"quantity"`
}
