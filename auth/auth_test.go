package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adrianchifor/arrpc/codec"
	"github.com/adrianchifor/arrpc/rpcerror"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	c := codec.GetCodec(codec.CodecTypeMsgpack)
	payload := []byte("serialized message bytes")

	wrapped, err := Sign(payload, "secret", c)
	require.NoError(t, err)

	decoded, err := c.Decode(wrapped)
	require.NoError(t, err)

	data, err := Verify(decoded, "secret")
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestVerifyWrongSecret(t *testing.T) {
	c := codec.GetCodec(codec.CodecTypeMsgpack)

	wrapped, err := Sign([]byte("payload"), "secret", c)
	require.NoError(t, err)

	decoded, err := c.Decode(wrapped)
	require.NoError(t, err)

	_, err = Verify(decoded, "other")
	require.Error(t, err)
	require.IsType(t, &rpcerror.AuthError{}, err)
}

func TestVerifyTamperedData(t *testing.T) {
	c := codec.GetCodec(codec.CodecTypeMsgpack)

	wrapped, err := Sign([]byte("payload"), "secret", c)
	require.NoError(t, err)

	decoded, err := c.Decode(wrapped)
	require.NoError(t, err)

	envelope := decoded.(map[string]any)
	envelope[DataKey] = []byte("tampered")

	_, err = Verify(envelope, "secret")
	require.Error(t, err)
	require.IsType(t, &rpcerror.AuthError{}, err)
}

func TestVerifyBadShape(t *testing.T) {
	cases := []any{
		"not a mapping",
		int64(7),
		map[string]any{"a": int64(1)},
		map[string]any{SignatureKey: "deadbeef"},
		map[string]any{DataKey: []byte("payload")},
		map[string]any{SignatureKey: int64(1), DataKey: []byte("payload")},
		map[string]any{SignatureKey: "deadbeef", DataKey: "not bytes"},
	}

	for _, v := range cases {
		_, err := Verify(v, "secret")
		require.Error(t, err)
		require.IsType(t, &rpcerror.AuthError{}, err)
	}
}
