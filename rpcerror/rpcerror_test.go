package rpcerror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeWire(t *testing.T) {
	text, ok := EncodeWire(NewAuth("signature is incorrect"))
	require.True(t, ok)
	require.Equal(t, "AuthException: signature is incorrect", text)

	text, ok = EncodeWire(NewRPC("bad input"))
	require.True(t, ok)
	require.Equal(t, "RpcException: bad input", text)
}

func TestEncodeWireRejectsOtherKinds(t *testing.T) {
	// Transport failures can never travel in-band: no response frame
	// exists for them by definition.
	_, ok := EncodeWire(&ConnectError{Addr: "localhost:9000", Attempts: 5})
	require.False(t, ok)

	_, ok = EncodeWire(&TimeoutError{Op: "response"})
	require.False(t, ok)

	_, ok = EncodeWire(errors.New("arbitrary"))
	require.False(t, ok)
}

func TestParseResponse(t *testing.T) {
	err := ParseResponse("AuthException: signature not found")
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "signature not found", authErr.Message)

	err = ParseResponse("RpcException: bad input")
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, "bad input", rpcErr.Error())
}

func TestParseResponsePassthrough(t *testing.T) {
	require.NoError(t, ParseResponse("an ordinary string response"))
	require.NoError(t, ParseResponse(map[string]any{"a": int64(1)}))
	require.NoError(t, ParseResponse(nil))
	// Prefix must match exactly, including the separator.
	require.NoError(t, ParseResponse("AuthException without the separator"))
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, "bad input", NewRPC("bad input").Error())
	require.Equal(t, "signature is incorrect", NewAuth("signature is incorrect").Error())

	cerr := &ConnectError{Addr: "localhost:9000", Attempts: 5}
	require.Equal(t, "failed to connect to localhost:9000 with 5 attempts", cerr.Error())
}
