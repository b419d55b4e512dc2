package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/maida-ai/xcp/ether"
)

// BinaryCodec is the mandatory structured binary codec (id 0x0008): a
// deterministic tag-length encoding of Ether fields. Top-level fields are
// positional (no field names on the wire) and every value carries a
// one-byte tag; map keys are written in full, in ascending key order, and
// ints and floats always take 8 bytes.
//
// Binary format (all multi-byte integers big-endian):
//
//	kind       : u16 len + bytes
//	schemaVer  : u32
//	payload    : value (always a map)
//	metadata   : value (always a map)
//	extraFields: value (always a map)
//	attachments: u16 count, each as (id, uri, mediaType, codec, dtype
//	             strings; shape as u16 count + u32 each; sizeBytes u64;
//	             inlineBytes as u32 len + bytes)
//
// Value tags: 0=null 1=string 2=int 3=float 4=bool 5=bytes 6=list 7=map.
type BinaryCodec struct{}

func (c *BinaryCodec) ID() ID { return Binary }

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	e, ok := v.(*ether.Ether)
	if !ok {
		return nil, fmt.Errorf("codec: BinaryCodec only encodes *ether.Ether, got %T", v)
	}

	w := newByteWriter()
	w.writeString16(e.Kind)
	w.writeU32(uint32(e.SchemaVersion))
	w.writeValue(ether.Map(e.Payload))
	w.writeValue(ether.Map(e.Metadata))
	w.writeValue(ether.Map(e.ExtraFields))
	w.writeU16(uint16(len(e.Attachments)))
	for _, a := range e.Attachments {
		w.writeAttachment(a)
	}
	return w.buf, w.err
}

func (c *BinaryCodec) Decode(data []byte) (any, error) {
	r := newByteReader(data)
	kind := r.readString16()
	schemaVersion := r.readU32()
	payload := r.readValue()
	metadata := r.readValue()
	extraFields := r.readValue()
	attCount := r.readU16()
	attachments := make([]ether.Attachment, 0, attCount)
	for i := uint16(0); i < attCount; i++ {
		attachments = append(attachments, r.readAttachment())
	}
	if r.err != nil {
		return nil, r.err
	}

	payloadMap, _ := payload.AsMap()
	metadataMap, _ := metadata.AsMap()
	extraMap, _ := extraFields.AsMap()

	e := &ether.Ether{
		Kind:          kind,
		SchemaVersion: int(schemaVersion),
		Payload:       payloadMap,
		Metadata:      metadataMap,
		ExtraFields:   extraMap,
		Attachments:   attachments,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// byteWriter accumulates an error across writes so call sites don't need
// to check one at a time, mirroring the teacher's offset-advancing style
// but generalized to variable-length nested values.
type byteWriter struct {
	buf []byte
	err error
}

func newByteWriter() *byteWriter { return &byteWriter{} }

func (w *byteWriter) writeU16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) writeU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) writeU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) writeString16(s string) {
	w.writeU16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) writeBytes32(b []byte) {
	w.writeU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *byteWriter) writeValue(v ether.Value) {
	switch v.Kind() {
	case ether.KindNull:
		w.buf = append(w.buf, 0)
	case ether.KindString:
		w.buf = append(w.buf, 1)
		s, _ := v.AsString()
		w.writeBytes32([]byte(s))
	case ether.KindInt:
		w.buf = append(w.buf, 2)
		i, _ := v.AsInt()
		w.writeU64(uint64(i))
	case ether.KindFloat:
		w.buf = append(w.buf, 3)
		f, _ := v.AsFloat()
		w.writeU64(math.Float64bits(f))
	case ether.KindBool:
		w.buf = append(w.buf, 4)
		b, _ := v.AsBool()
		if b {
			w.buf = append(w.buf, 1)
		} else {
			w.buf = append(w.buf, 0)
		}
	case ether.KindBytes:
		w.buf = append(w.buf, 5)
		bs, _ := v.AsBytes()
		w.writeBytes32(bs)
	case ether.KindList:
		w.buf = append(w.buf, 6)
		list, _ := v.AsList()
		w.writeU32(uint32(len(list)))
		for _, e := range list {
			w.writeValue(e)
		}
	case ether.KindMap:
		w.buf = append(w.buf, 7)
		m, _ := v.AsMap()
		w.writeU32(uint32(len(m)))
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			w.writeBytes32([]byte(k))
			w.writeValue(m[k])
		}
	default:
		w.err = errors.New("codec: unknown value kind")
	}
}

func (w *byteWriter) writeAttachment(a ether.Attachment) {
	w.writeString16(a.ID)
	w.writeString16(a.URI)
	w.writeString16(a.MediaType)
	w.writeString16(a.Codec)
	w.writeString16(a.DType)
	w.writeU16(uint16(len(a.Shape)))
	for _, s := range a.Shape {
		w.writeU32(uint32(s))
	}
	w.writeU64(uint64(a.SizeBytes))
	w.writeBytes32(a.InlineBytes)
}

type byteReader struct {
	data []byte
	off  int
	err  error
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("codec: BinaryCodec: truncated input at offset %d, need %d more bytes", r.off, n)
		return false
	}
	return true
}

func (r *byteReader) readU16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off : r.off+2])
	r.off += 2
	return v
}

func (r *byteReader) readU32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off : r.off+4])
	r.off += 4
	return v
}

func (r *byteReader) readU64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.off : r.off+8])
	r.off += 8
	return v
}

func (r *byteReader) readString16() string {
	n := int(r.readU16())
	if !r.need(n) {
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

func (r *byteReader) readBytes32() []byte {
	n := int(r.readU32())
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

func (r *byteReader) readValue() ether.Value {
	if !r.need(1) {
		return ether.Null()
	}
	tag := r.data[r.off]
	r.off++

	switch tag {
	case 0:
		return ether.Null()
	case 1:
		return ether.String(string(r.readBytes32()))
	case 2:
		return ether.Int(int64(r.readU64()))
	case 3:
		return ether.Float(math.Float64frombits(r.readU64()))
	case 4:
		if !r.need(1) {
			return ether.Bool(false)
		}
		b := r.data[r.off] != 0
		r.off++
		return ether.Bool(b)
	case 5:
		return ether.Bytes(r.readBytes32())
	case 6:
		n := int(r.readU32())
		list := make([]ether.Value, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			list = append(list, r.readValue())
		}
		return ether.List(list)
	case 7:
		n := int(r.readU32())
		m := make(map[string]ether.Value, n)
		for i := 0; i < n && r.err == nil; i++ {
			k := string(r.readBytes32())
			m[k] = r.readValue()
		}
		return ether.Map(m)
	default:
		r.err = fmt.Errorf("codec: BinaryCodec: unknown value tag %d", tag)
		return ether.Null()
	}
}

func (r *byteReader) readAttachment() ether.Attachment {
	a := ether.Attachment{
		ID:        r.readString16(),
		URI:       r.readString16(),
		MediaType: r.readString16(),
		Codec:     r.readString16(),
		DType:     r.readString16(),
	}
	shapeLen := int(r.readU16())
	a.Shape = make([]int, 0, shapeLen)
	for i := 0; i < shapeLen; i++ {
		a.Shape = append(a.Shape, int(r.readU32()))
	}
	a.SizeBytes = int64(r.readU64())
	a.InlineBytes = r.readBytes32()
	return a
}
