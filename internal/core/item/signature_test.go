package item

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureEquality(t *testing.T) {
	a := NewSignature("diamond_sword", Enchantment{Name: "sharpness", Level: 5}, Enchantment{Name: "unbreaking", Level: 3})
	b := NewSignature("DIAMOND_SWORD", Enchantment{Name: "Unbreaking", Level: 3}, Enchantment{Name: "sharpness", Level: 5})
	c := NewSignature("DIAMOND_SWORD")

	assert.Equal(t, a, b)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a.Hash(), c.Hash())

	m := map[Signature]int{a: 1}
	m[b]++
	assert.Equal(t, 2, m[a])
}

func TestSignatureIgnoresEnchantmentCase(t *testing.T) {
	a := NewSignature("SWORD", Enchantment{Name: "b", Level: 1}, Enchantment{Name: "A", Level: 1})
	b := NewSignature("SWORD", Enchantment{Name: "B", Level: 1}, Enchantment{Name: "a", Level: 1})

	assert.Equal(t, a, b)
	assert.Equal(t, "SWORD{a=1;b=1}", b.String())

	parsed, err := ParseSignature(b.String())
	require.NoError(t, err)
	assert.Equal(t, b, parsed)
}

func TestSignatureRoundTrip(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		sig := NewSignature("bone")
		parsed, err := ParseSignature(sig.String())
		require.NoError(t, err)
		assert.Equal(t, sig, parsed)
		assert.Equal(t, "BONE", parsed.Material())
		assert.Empty(t, parsed.Enchantments())
	})

	t.Run("enchanted", func(t *testing.T) {
		sig := NewSignature("bow", Enchantment{Name: "power", Level: 2})
		assert.Equal(t, "BOW{power=2}", sig.String())

		parsed, err := ParseSignature(sig.String())
		require.NoError(t, err)
		assert.Equal(t, sig, parsed)
		assert.Equal(t, []Enchantment{{Name: "power", Level: 2}}, parsed.Enchantments())
	})

	t.Run("json", func(t *testing.T) {
		in := Stack{Signature: NewSignature("arrow"), Quantity: 12}
		raw, err := json.Marshal(in)
		require.NoError(t, err)

		var out Stack
		require.NoError(t, json.Unmarshal(raw, &out))
		assert.Equal(t, in, out)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, s := range []string{"", "{x=1}", "BOW{power}", "BOW{power=x}", "BOW{power=1"} {
			_, err := ParseSignature(s)
			assert.ErrorIs(t, err, ErrInvalidSignature, s)
		}
	})
}
