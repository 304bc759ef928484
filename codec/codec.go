// Package codec serializes messages for the wire.
//
// A message is an arbitrary application value: nested mappings, sequences,
// scalars, and raw byte strings all round-trip. The default codec is
// MessagePack, which is the on-wire format; JSON is available as a
// human-readable alternative for debugging (note that JSON has no native
// byte string type, so the signed envelope requires MessagePack).
package codec

type CodecType byte

const (
	CodecTypeMsgpack CodecType = 0
	CodecTypeJSON    CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
	Type() CodecType // 0=Msgpack, 1=JSON
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &MsgpackCodec{}
}
