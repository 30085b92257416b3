package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Deterministic(t *testing.T) {
	a := Hash([]byte("Le mandat pour cause d'inaptitude"))
	b := Hash([]byte("Le mandat pour cause d'inaptitude"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHash_DistinctInputs(t *testing.T) {
	assert.NotEqual(t, Hash([]byte("art. 389")), Hash([]byte("art. 390")))
}

func TestHash_EmptyInput(t *testing.T) {
	// Empty input hashes to the well-known SHA-256 empty digest; it is not
	// an error at this level, callers guard against empty fetches.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash(nil),
	)
}

func TestHashString_ValidUTF8(t *testing.T) {
	h, err := HashString("alinéa 2, lettre a")
	require.NoError(t, err)
	assert.Equal(t, Hash([]byte("alinéa 2, lettre a")), h)
}

func TestHashString_InvalidUTF8(t *testing.T) {
	_, err := HashString(string([]byte{0xff, 0xfe, 0xfd}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid UTF-8")
}
