// Package protocol implements the proto-z wire formats.
//
// proto-z is a point-to-point messaging protocol between endpoints that are
// identified by a Location (one of a fixed set of named sites) and a
// three-part 64-bit sub-address.
//
// # Header Encoding
//
// A Header carries one message from one endpoint to another. It is encoded
// with big-endian byte order:
//   - From (25 bytes): location (1 byte) + field1, field2, field3 (8 bytes each)
//   - To (25 bytes): same layout as From
//   - Length (4 bytes): message length
//   - Message (Length bytes)
//
// DecodeHeader rejects buffers whose declared length runs past the end of
// the buffer, buffers with trailing bytes, and location bytes outside the
// enumerated range. All of these wrap ErrMalformedHeader.
//
// # Link Frames
//
// Transports that move headers over byte streams (the relay hub and its
// clients) wrap them in frames. Every frame starts with a 28-byte frame
// header:
//   - Magic (4 bytes): protocol identifier (0x50524F5A = "PROZ")
//   - Version (2 bytes): protocol version (0x0100 = v1.0)
//   - Type (2 bytes): frame type
//   - Length (4 bytes): payload length
//   - MessageID (16 bytes): unique frame identifier
//
// # Frame Types
//
//   - Handshake/HandshakeAck: attach an endpoint address to a connection
//   - Deliver: payload is an encoded Header
//   - Ack/Nack: delivery acknowledgments from the relay
//   - Ping/Pong: keep-alive
//
// # Usage Example
//
//	h := &protocol.Header{
//	    From:    protocol.Address{Location: protocol.AlphaCentauri, Field1: 1, Field2: 1, Field3: 1},
//	    To:      protocol.Address{Location: protocol.Sirius, Field1: 2, Field2: 2, Field3: 2},
//	    Message: []byte("hello"),
//	}
//
//	frame := protocol.NewFrame(protocol.FrameDeliver, protocol.EncodeHeader(h))
//	protocol.WriteFrame(conn, frame)
package protocol
