package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec is the default wire codec.
//
// Decoding is "loose": integers come back as int64/uint64 and maps as
// map[string]any, so a round-tripped value has a predictable shape
// regardless of how the sender typed it. Binary data is preserved as
// []byte, which the signed envelope relies on.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MsgpackCodec) Decode(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
