package card

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePAN(t *testing.T) {
	require.NoError(t, ValidatePAN("4111111111111111"))
	require.NoError(t, ValidatePAN("4111 1111 1111 1111"))
	require.NoError(t, ValidatePAN("5500-0000-0000-0004"))

	assert.Error(t, ValidatePAN("4111111111111112"), "bad Luhn checksum")
	assert.Error(t, ValidatePAN("4111"), "too short")
	assert.Error(t, ValidatePAN("41111111111111111111"), "too long")
	assert.Error(t, ValidatePAN("4111a11111111111"), "non-digit")
	assert.Error(t, ValidatePAN(""))
}

func TestLuhn(t *testing.T) {
	assert.True(t, Luhn("4111111111111111"))
	assert.True(t, Luhn("79927398713"))
	assert.False(t, Luhn("79927398710"))
	assert.False(t, Luhn("4111x11111111111"))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "411111******1111", Mask("4111111111111111"))
	assert.Equal(t, "411111******1111", Mask("4111 1111 1111 1111"))
	assert.Equal(t, "550000******0004", Mask("5500-0000-0000-0004"))

	// Implausible PANs are fully masked rather than partially revealed.
	assert.Equal(t, "****", Mask("4111"))
	assert.Equal(t, "*******", Mask("notapan"))
	assert.Equal(t, "", Mask(""))
}

func TestMaskText(t *testing.T) {
	in := `failed to unpack: MTI:0200|02:4111111111111111,04:10.00`
	out := MaskText(in)
	assert.NotContains(t, out, "4111111111111111")
	assert.Contains(t, out, "411111******1111")
	assert.Contains(t, out, "04:10.00")
}
