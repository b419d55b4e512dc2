package ether

import "fmt"

// Attachment references or carries side-channel binary data (tensors,
// images, raw blobs) alongside an Ether envelope's structured payload.
type Attachment struct {
	ID           string `json:"id"`
	URI          string `json:"uri,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	Codec        string `json:"codec,omitempty"`
	Shape        []int  `json:"shape,omitempty"`
	DType        string `json:"dtype,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	InlineBytes  []byte `json:"inline_bytes,omitempty"`
}

// Ether is the self-describing envelope exchanged as an XCP DATA frame's
// payload. Kind names the application-level shape of Payload ("text",
// "embedding", "tokens", "image", or any agent-defined string); Payload,
// Metadata and ExtraFields are open maps so producers and consumers can
// add fields without breaking older readers (SchemaVersion is bumped only
// for incompatible changes).
type Ether struct {
	Kind          string           `json:"kind"`
	SchemaVersion int              `json:"schema_version"`
	Payload       map[string]Value `json:"payload"`
	Metadata      map[string]Value `json:"metadata,omitempty"`
	ExtraFields   map[string]Value `json:"extra_fields,omitempty"`
	Attachments   []Attachment     `json:"attachments,omitempty"`
}

// Validate enforces the invariants spec.md places on every Ether: a
// non-empty kind and a schema_version of at least 1.
func (e *Ether) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("ether: kind must not be empty")
	}
	if e.SchemaVersion < 1 {
		return fmt.Errorf("ether: schema_version must be >= 1, got %d", e.SchemaVersion)
	}
	return nil
}

func newEther(kind string, payload map[string]Value) *Ether {
	return &Ether{
		Kind:          kind,
		SchemaVersion: 1,
		Payload:       payload,
		Metadata:      map[string]Value{},
		ExtraFields:   map[string]Value{},
	}
}

// NewText builds an Ether carrying a plain-text payload.
func NewText(text string) *Ether {
	return newEther("text", map[string]Value{
		"text": String(text),
	})
}

// NewEmbedding builds an Ether carrying a dense float vector.
func NewEmbedding(values []float64) *Ether {
	vs := make([]Value, len(values))
	for i, f := range values {
		vs[i] = Float(f)
	}
	return newEther("embedding", map[string]Value{
		"values": List(vs),
		"dim":    Int(int64(len(values))),
	})
}

// NewTokens builds an Ether carrying integer token IDs and an optional
// attention mask.
func NewTokens(tokenIDs []int64, mask []int64) *Ether {
	ids := make([]Value, len(tokenIDs))
	for i, id := range tokenIDs {
		ids[i] = Int(id)
	}
	payload := map[string]Value{"token_ids": List(ids)}
	if mask != nil {
		ms := make([]Value, len(mask))
		for i, m := range mask {
			ms[i] = Int(m)
		}
		payload["mask"] = List(ms)
	}
	return newEther("tokens", payload)
}

// NewImage builds an Ether carrying raw pixel data inline in the payload,
// per spec.md §4.3's image constructor shape (height/width/channels/data).
// Larger images should instead use an Attachment and a descriptor-only
// payload; see Ether.Attachments.
func NewImage(height, width, channels int, data []byte) *Ether {
	return newEther("image", map[string]Value{
		"height":   Int(int64(height)),
		"width":    Int(int64(width)),
		"channels": Int(int64(channels)),
		"data":     Bytes(data),
	})
}
