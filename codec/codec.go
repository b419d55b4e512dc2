// Package codec provides the pluggable serialization layer for XCP frame
// bodies: a Codec maps between an Ether (or a raw control-message map)
// and bytes, keyed by a 16-bit codec ID carried in FrameHeader.BodyCodec.
package codec

import "fmt"

// ID identifies a codec implementation on the wire.
type ID uint16

// Mandatory and reserved codec IDs (spec.md §4.2). Reserved IDs are
// declared so peers may advertise them in HELLO/CAPS without this core
// providing an implementation; encoding/decoding with a reserved-but-
// unregistered ID yields ErrUnsupportedCodec same as any unknown ID.
const (
	JSON        ID = 0x0001
	TensorF32   ID = 0x0002
	TensorF16   ID = 0x0003
	TensorQnt8  ID = 0x0004
	Binary      ID = 0x0008
	MixedLatent ID = 0x0010
	ArrowIPC    ID = 0x0020
	DLPack      ID = 0x0021
)

// ErrUnsupportedCodec is returned by Registry.Get for an ID with no
// registered implementation. It surfaces to the wire as a NACK carrying
// ERR_CODEC_UNSUPPORTED.
type ErrUnsupportedCodec struct {
	CodecID ID
}

func (e *ErrUnsupportedCodec) Error() string {
	return fmt.Sprintf("codec: unsupported codec id %#04x", uint16(e.CodecID))
}

// Codec encodes and decodes frame bodies. Decode returns either an
// *ether.Ether (when the decoded structure self-identifies as one) or a
// map[string]any for control payloads (HELLO, CAPS, PING, PONG, NACK).
type Codec interface {
	ID() ID
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Registry is a process-wide, read-only-after-init mapping from codec ID
// to implementation, built once at startup (spec.md §9 "Global state").
// Registration order is preserved and doubles as the local codec
// preference order the handshake advertises in HELLO/CAPS.
type Registry struct {
	codecs map[ID]Codec
	order  []ID
}

// NewRegistry builds a registry with the two mandatory codecs (JSON and
// the binary structured codec) pre-registered, JSON first so it is
// preferred when a peer supports both.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[ID]Codec)}
	r.Register(&JSONCodec{})
	r.Register(&BinaryCodec{})
	return r
}

// Register installs (or replaces) the codec under its own ID. Replacing
// an already-registered ID keeps its original position in preference
// order.
func (r *Registry) Register(c Codec) {
	id := c.ID()
	if _, ok := r.codecs[id]; !ok {
		r.order = append(r.order, id)
	}
	r.codecs[id] = c
}

// Get looks up a codec by ID, returning ErrUnsupportedCodec if absent.
func (r *Registry) Get(id ID) (Codec, error) {
	c, ok := r.codecs[id]
	if !ok {
		return nil, &ErrUnsupportedCodec{CodecID: id}
	}
	return c, nil
}

// IDs returns the registered codec IDs, in local preference order (the
// order they were registered) — used by HELLO/CAPS to advertise and
// intersect local support deterministically.
func (r *Registry) IDs() []ID {
	ids := make([]ID, len(r.order))
	copy(ids, r.order)
	return ids
}
