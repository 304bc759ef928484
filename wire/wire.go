// Package wire implements the framing layer: how one encoded message is
// delimited on a TCP byte stream.
//
// There is no length prefix. The reader pulls chunks of up to ChunkSize
// bytes and concatenates them; the first chunk shorter than ChunkSize
// (including a zero-length one, meaning the peer closed the connection)
// marks the end of the message. This is the wire format and cannot be
// changed without breaking every existing peer.
//
// Known limitation, preserved on purpose: a message whose encoded length is
// an exact multiple of ChunkSize is indistinguishable from a message with
// more data still in flight, so the reader keeps waiting for a short chunk.
// Callers must either avoid chunk-aligned messages or set a read deadline.
package wire

import (
	"io"
)

// ChunkSize is the per-read buffer size. Both sides must agree on it for
// the short-chunk delimiter to line up.
const ChunkSize = 4096

// ReadMessage reads one complete message from the stream. An empty result
// with a nil error means the peer closed the connection before sending
// anything. Read deadlines on the underlying connection surface as errors.
func ReadMessage(stream io.Reader) ([]byte, error) {
	data := make([]byte, 0, ChunkSize)
	buf := make([]byte, ChunkSize)
	for {
		n, err := stream.Read(buf)
		data = append(data, buf[:n]...)
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return data, err
		}
		if n < ChunkSize {
			return data, nil
		}
	}
}

// WriteMessage writes one complete message to the stream. net.Conn already
// retries short writes internally, so a nil error means the full buffer
// was handed to the transport.
func WriteMessage(stream io.Writer, data []byte) error {
	_, err := stream.Write(data)
	return err
}
