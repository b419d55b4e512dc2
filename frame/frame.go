// Package frame implements the XCP wire framing: a fixed 8-byte binary
// prefix, a variable-length JSON header, a 4- or 8-byte payload length,
// the payload itself, and a CRC32C trailer over the payload only.
//
// Frame format:
//
//	offset  size  field
//	  0      4   magic         (0xA9A17A10, little-endian)
//	  4      1   version_byte  ((major<<4)|minor)
//	  5      1   flags         (bit7=COMP, bit6=CRYPT, bit5=MORE, bit4=LARGE)
//	  6      2   header_len    (u16 LE)
//	  8   hlen   header_bytes  (JSON)
//	  *    4/8   payload_len   (u32 LE, or u64 LE if LARGE=1)
//	  *   plen   payload_bytes
//	  *      4   crc32c        (CRC32C of payload_bytes, LE)
package frame

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
)

// Magic identifies the start of an XCP frame.
const Magic uint32 = 0xA9A17A10

// VersionMajor/VersionMinor/Version are the core protocol version; the
// wire byte packs them as (major<<4)|minor.
const (
	VersionMajor byte = 0x0
	VersionMinor byte = 0x2
	Version      byte = (VersionMajor << 4) | VersionMinor
)

// Flag bits, per the fixed single flags byte. Only LARGE is behaviorally
// active in the core; COMP, CRYPT and MORE are reserved, must be zero on
// send, and are rejected on receive.
type Flag byte

const (
	FlagLarge Flag = 1 << 4
	FlagMore  Flag = 1 << 5
	FlagCrypt Flag = 1 << 6
	FlagComp  Flag = 1 << 7

	flagReservedMask = 0x0F // bits 0-3 must be zero
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// MsgType enumerates the control/data frame kinds carried in FrameHeader.
type MsgType uint16

const (
	MsgHello   MsgType = 0x01
	MsgCaps    MsgType = 0x02
	MsgPing    MsgType = 0x03
	MsgPong    MsgType = 0x04
	MsgAck     MsgType = 0x05
	MsgNack    MsgType = 0x06
	MsgData    MsgType = 0x20
)

// Wire-level NACK error codes (spec.md §7).
const (
	ErrCodeOK                  uint16 = 0x0000
	ErrCodeSchemaUnknown       uint16 = 0x0001
	ErrCodeCodecUnsupported    uint16 = 0x0002
	ErrCodeMessageTooLarge     uint16 = 0x0003
	ErrCodeKindMismatch        uint16 = 0x0004
)

// Default frame-size caps (spec.md §6).
const (
	DefaultMaxFrameBytes = 1 << 20 // 1 MiB
	WANMaxFrameBytes     = 512 << 10
	LANMaxFrameBytes     = 4 << 20
)

// SchemaKey identifies the shape of a frame's payload for schema
// governance; the core does not validate it beyond carrying it verbatim.
type SchemaKey struct {
	NSHash  uint32 `json:"nsHash"`
	KindID  uint32 `json:"kindId"`
	Major   uint16 `json:"major"`
	Minor   uint16 `json:"minor"`
	Hash128 string `json:"hash128"` // 16 bytes, hex-encoded
}

// Tag is a single free-form key/value annotation carried in FrameHeader.
type Tag struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// FrameHeader is the JSON-serialized logical header. Field names are
// fixed by the wire format and must not be renamed.
type FrameHeader struct {
	ChannelID  uint32    `json:"channelId"`
	MsgType    MsgType   `json:"msgType"`
	BodyCodec  uint16    `json:"bodyCodec"`
	SchemaKey  SchemaKey `json:"schemaKey"`
	MsgID      uint64    `json:"msgId"`
	InReplyTo  uint64    `json:"inReplyTo"`
	Tags       []Tag     `json:"tags"`
}

// Frame is a fully-decoded wire unit.
type Frame struct {
	Header  FrameHeader
	Payload []byte
}

// Pack serializes f into its wire representation. extraFlags may set
// COMP/CRYPT/MORE bits for future use; the core rejects them on parse,
// so callers should leave extraFlags at 0 in this version.
func Pack(f *Frame, extraFlags Flag) ([]byte, error) {
	headerJSON, err := json.Marshal(f.Header)
	if err != nil {
		return nil, fmt.Errorf("frame: marshal header: %w", err)
	}
	if len(headerJSON) == 0 || len(headerJSON) > 0xFFFF {
		return nil, fmt.Errorf("frame: header_len %d out of range", len(headerJSON))
	}

	large := uint64(len(f.Payload)) >= (1 << 32)
	flags := extraFlags
	if large {
		flags |= FlagLarge
	}

	prefix := make([]byte, 8)
	binary.LittleEndian.PutUint32(prefix[0:4], Magic)
	prefix[4] = Version
	prefix[5] = byte(flags)
	binary.LittleEndian.PutUint16(prefix[6:8], uint16(len(headerJSON)))

	var plenBuf []byte
	if large {
		plenBuf = make([]byte, 8)
		binary.LittleEndian.PutUint64(plenBuf, uint64(len(f.Payload)))
	} else {
		plenBuf = make([]byte, 4)
		binary.LittleEndian.PutUint32(plenBuf, uint32(len(f.Payload)))
	}

	crc := crc32.Checksum(f.Payload, crc32cTable)
	crcBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBuf, crc)

	out := make([]byte, 0, len(prefix)+len(headerJSON)+len(plenBuf)+len(f.Payload)+len(crcBuf))
	out = append(out, prefix...)
	out = append(out, headerJSON...)
	out = append(out, plenBuf...)
	out = append(out, f.Payload...)
	out = append(out, crcBuf...)
	return out, nil
}

// Parse reads exactly one frame from r, enforcing maxFrameBytes on both
// header_len and payload_len. A maxFrameBytes of 0 disables the check
// (used only before a handshake has negotiated a cap).
func Parse(r io.Reader, maxFrameBytes uint64) (*Frame, error) {
	prefix := make([]byte, 8)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, wrapShortRead(err)
	}

	magic := binary.LittleEndian.Uint32(prefix[0:4])
	if magic != Magic {
		return nil, &Error{Code: BadMagic, Msg: fmt.Sprintf("bad magic: got %#x, want %#x", magic, Magic)}
	}

	version := prefix[4]
	if version != Version {
		return nil, &Error{Code: BadVersion, Msg: fmt.Sprintf("bad version: got %#x, want %#x", version, Version)}
	}

	flags := Flag(prefix[5])
	if byte(flags)&flagReservedMask != 0 {
		return nil, &Error{Code: HeaderMalformed, Msg: "reserved flag bits set"}
	}
	if flags&FlagComp != 0 || flags&FlagCrypt != 0 || flags&FlagMore != 0 {
		return nil, &Error{Code: HeaderMalformed, Msg: "COMP/CRYPT/MORE flags are not supported by this core"}
	}

	headerLen := binary.LittleEndian.Uint16(prefix[6:8])
	if headerLen == 0 {
		return nil, &Error{Code: HeaderMalformed, Msg: "header_len must not be zero"}
	}
	if maxFrameBytes != 0 && uint64(headerLen) > maxFrameBytes {
		return nil, &Error{Code: FrameTooLarge, Msg: fmt.Sprintf("header_len %d exceeds max_frame_bytes %d", headerLen, maxFrameBytes)}
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, wrapShortRead(err)
	}

	var header FrameHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, &Error{Code: HeaderMalformed, Msg: "invalid header JSON: " + err.Error()}
	}

	var payloadLen uint64
	if flags&FlagLarge != 0 {
		buf := make([]byte, 8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, wrapShortRead(err)
		}
		payloadLen = binary.LittleEndian.Uint64(buf)
	} else {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, wrapShortRead(err)
		}
		payloadLen = uint64(binary.LittleEndian.Uint32(buf))
	}

	if maxFrameBytes != 0 && payloadLen > maxFrameBytes {
		return nil, &Error{Code: FrameTooLarge, Msg: fmt.Sprintf("payload_len %d exceeds max_frame_bytes %d", payloadLen, maxFrameBytes)}
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, wrapShortRead(err)
	}

	crcBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, crcBuf); err != nil {
		return nil, wrapShortRead(err)
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf)
	gotCRC := crc32.Checksum(payload, crc32cTable)
	if gotCRC != wantCRC {
		return nil, &Error{Code: BadCrc, Msg: fmt.Sprintf("crc32c mismatch: got %#x, want %#x", gotCRC, wantCRC)}
	}

	return &Frame{Header: header, Payload: payload}, nil
}

func wrapShortRead(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &Error{Code: UnexpectedEof, Msg: "short read: " + err.Error(), cause: err}
	}
	return &Error{Code: UnexpectedEof, Msg: err.Error(), cause: err}
}
