// Package rpcerror defines the error taxonomy of the RPC layer and the
// in-band wire encoding for the two error kinds a server may report as
// response content.
//
// The wire format has no status field, so authentication failures and
// application-declared RPC failures travel as plain text responses of the
// form "<ErrorKindName>: <message>". Transport and framing failures are
// never encodable this way; they surface as returned errors on whichever
// side hit them.
package rpcerror

import (
	"fmt"
	"strings"
)

// Wire prefixes for in-band errors. These exact strings are part of the
// protocol; peers match on them byte for byte.
const (
	authWirePrefix = "AuthException: "
	rpcWirePrefix  = "RpcException: "
)

// ConnectError means the connect retry budget was exhausted without
// establishing a transport connection. It is fatal to the call but not to
// the Client, which will start a fresh connect sequence on the next call.
type ConnectError struct {
	Addr     string
	Attempts int
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s with %d attempts", e.Addr, e.Attempts)
}

// TimeoutError means a configured socket timeout elapsed waiting for I/O.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// AuthError means the signed envelope was missing, malformed, or carried a
// signature that does not match the shared secret.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

func NewAuth(message string) *AuthError {
	return &AuthError{Message: message}
}

// RPCError is the one failure kind an application handler may declare and
// have reported to the remote caller. Any other error returned by a
// handler is fatal to the connection that carried the request.
type RPCError struct {
	Message string
}

func (e *RPCError) Error() string { return e.Message }

func NewRPC(message string) *RPCError {
	return &RPCError{Message: message}
}

// EncodeWire renders an in-band-reportable error as its wire text. The
// second return is false for error kinds that must not appear as response
// content.
func EncodeWire(err error) (string, bool) {
	switch e := err.(type) {
	case *AuthError:
		return authWirePrefix + e.Message, true
	case *RPCError:
		return rpcWirePrefix + e.Message, true
	}
	return "", false
}

// ParseResponse inspects a decoded response value and reconstructs the
// error it encodes, if any. Non-string responses and strings without a
// recognized prefix are not errors.
func ParseResponse(v any) error {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	if msg, found := strings.CutPrefix(s, authWirePrefix); found {
		return NewAuth(msg)
	}
	if msg, found := strings.CutPrefix(s, rpcWirePrefix); found {
		return NewRPC(msg)
	}
	return nil
}
