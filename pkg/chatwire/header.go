package chatwire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// The transfer header is a fixed 120-byte block: an 11-byte command tag,
// a 101-byte NUL-padded file name, then a 4-byte size and a 4-byte kind.
// The integer fields travel in native byte order, matching every deployed
// peer; interop between hosts of differing endianness is undefined and is
// a documented limitation of this protocol, not something the codec papers
// over.
const (
	CommandTagLen = 11
	NameFieldLen  = 101
	HeaderLen     = CommandTagLen + NameFieldLen + 4 + 4

	// MaxNameLen is the longest name that survives the NUL-padded field.
	MaxNameLen = NameFieldLen - 1

	commandTag = ":xfer:"
)

type Kind uint32

const (
	KindSend       Kind = 1
	KindGetRequest Kind = 2
)

var (
	ErrShortBuffer = errors.New("buffer too small for transfer header")
	ErrBadTag      = errors.New("payload does not carry the transfer command tag")
)

// TransferHeader describes an announced file push (KindSend) or a request
// that any listener holding the named file push it back (KindGetRequest,
// always with Size zero).
type TransferHeader struct {
	Name string
	Size uint32
	Kind Kind
}

// IsHeaderFrame reports whether the datagram payload begins with the
// command tag. This check runs before any other interpretation of an
// inbound frame.
func IsHeaderFrame(src []byte) bool {
	return bytes.HasPrefix(src, []byte(commandTag))
}

// Encode writes the fixed-layout header into dst and returns the number of
// bytes written. An over-length name is truncated to the field capacity
// rather than rejected.
func (h *TransferHeader) Encode(dst []byte) (int, error) {
	if len(dst) < HeaderLen {
		return 0, ErrShortBuffer
	}
	for i := 0; i < HeaderLen; i++ {
		dst[i] = 0
	}
	copy(dst[:CommandTagLen], commandTag)

	name := h.Name
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	copy(dst[CommandTagLen:CommandTagLen+NameFieldLen], name)

	binary.NativeEndian.PutUint32(dst[CommandTagLen+NameFieldLen:], h.Size)
	binary.NativeEndian.PutUint32(dst[CommandTagLen+NameFieldLen+4:], uint32(h.Kind))
	return HeaderLen, nil
}

// Marshal is Encode into a freshly allocated buffer.
func (h *TransferHeader) Marshal() []byte {
	buf := make([]byte, HeaderLen)
	_, _ = h.Encode(buf)
	return buf
}

// Decode parses the fixed-layout header from src and returns the number of
// bytes consumed. Size is not bounds-checked beyond its use as a counter;
// callers cap their own per-block reads.
func (h *TransferHeader) Decode(src []byte) (int, error) {
	if len(src) < HeaderLen {
		return 0, ErrShortBuffer
	}
	if !IsHeaderFrame(src) {
		return 0, ErrBadTag
	}

	nameField := src[CommandTagLen : CommandTagLen+NameFieldLen]
	if i := bytes.IndexByte(nameField, 0); i >= 0 {
		nameField = nameField[:i]
	}
	h.Name = string(nameField)

	h.Size = binary.NativeEndian.Uint32(src[CommandTagLen+NameFieldLen:])
	h.Kind = Kind(binary.NativeEndian.Uint32(src[CommandTagLen+NameFieldLen+4:]))
	return HeaderLen, nil
}
