package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMsgpackRoundTrip(t *testing.T) {
	c := GetCodec(CodecTypeMsgpack)

	msg := map[string]any{
		"str":   "hello",
		"int":   int64(42),
		"neg":   int64(-7),
		"float": 3.5,
		"bool":  true,
		"raw":   []byte{0x00, 0x01, 0xfe, 0xff},
		"seq":   []any{"a", int64(1), false},
		"nested": map[string]any{
			"inner": []byte("payload"),
		},
	}

	data, err := c.Encode(msg)
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestMsgpackScalars(t *testing.T) {
	c := GetCodec(CodecTypeMsgpack)

	for _, v := range []any{"text", int64(123), 1.25, true, nil} {
		data, err := c.Encode(v)
		require.NoError(t, err)

		decoded, err := c.Decode(data)
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
}

func TestMsgpackDecodeGarbage(t *testing.T) {
	c := GetCodec(CodecTypeMsgpack)

	// 0xc1 is the one byte the MessagePack spec never assigns.
	_, err := c.Decode([]byte{0xc1})
	require.Error(t, err)

	_, err = c.Decode(nil)
	require.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	c := GetCodec(CodecTypeJSON)

	msg := map[string]any{
		"a":   float64(1),
		"b":   "two",
		"seq": []any{float64(3), "four"},
	}

	data, err := c.Encode(msg)
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestGetCodec(t *testing.T) {
	require.Equal(t, CodecTypeMsgpack, GetCodec(CodecTypeMsgpack).Type())
	require.Equal(t, CodecTypeJSON, GetCodec(CodecTypeJSON).Type())
}
