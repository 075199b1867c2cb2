package envelope

import (
	"crypto/rand"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// A payload that decrypts fine but is not a string-keyed map must be
// rejected with ErrPayload, distinct from integrity and format failures.
func TestOpen_NonMapPayload(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	for _, raw := range [][]byte{
		mustCBOR(t, []int{1, 2, 3}),
		mustCBOR(t, "just a string"),
		mustCBOR(t, 42),
		{0xff, 0x00}, // not CBOR at all
	} {
		blob, err := sealBytes(raw, key)
		require.NoError(t, err)
		_, err = Open(blob, key)
		require.ErrorIs(t, err, ErrPayload)
	}
}

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := cbor.Marshal(v)
	require.NoError(t, err)
	return raw
}
