// Package auth implements the signed message envelope.
//
// A signed payload travels as a two-field mapping serialized with the same
// codec as ordinary messages:
//
//	{"arrpc.sign": <hex HMAC-SHA256 of data>, "data": <payload bytes>}
//
// There is no negotiation: both ends either share a secret or they don't.
// An envelope is indistinguishable on the wire from a message that happens
// to be a two-field mapping with these exact keys.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/adrianchifor/arrpc/codec"
	"github.com/adrianchifor/arrpc/rpcerror"
)

// Envelope field names. Part of the wire format.
const (
	SignatureKey = "arrpc.sign"
	DataKey      = "data"
)

// Sign wraps an already-serialized payload in the signed envelope and
// returns the serialized envelope, which replaces the payload on the wire.
func Sign(payload []byte, secret string, c codec.Codec) ([]byte, error) {
	envelope := map[string]any{
		SignatureKey: signature(payload, secret),
		DataKey:      payload,
	}
	return c.Encode(envelope)
}

// Verify checks a decoded value against the envelope shape and the shared
// secret, and returns the inner payload bytes for the caller to decode as
// the real message. Shape and signature failures both come back as
// *rpcerror.AuthError.
func Verify(v any, secret string) ([]byte, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, rpcerror.NewAuth("failed to authenticate message, signature not found")
	}
	sigVal, hasSig := m[SignatureKey]
	dataVal, hasData := m[DataKey]
	if !hasSig || !hasData {
		return nil, rpcerror.NewAuth("failed to authenticate message, signature not found")
	}
	sig, ok := sigVal.(string)
	if !ok {
		return nil, rpcerror.NewAuth("failed to authenticate message, signature not found")
	}
	data, ok := dataVal.([]byte)
	if !ok {
		return nil, rpcerror.NewAuth("failed to authenticate message, signature not found")
	}

	expected := signature(data, secret)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return nil, rpcerror.NewAuth("failed to authenticate message, signature is incorrect")
	}
	return data, nil
}

func signature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
