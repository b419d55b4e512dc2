package codec

import (
	"encoding/json"

	"github.com/maida-ai/xcp/ether"
)

// JSONCodec is the mandatory canonical codec (id 0x0001): compact JSON
// with no insignificant whitespace and stable field names. On decode, a
// structure carrying both "kind" and "schema_version" is reconstructed
// as an *ether.Ether, with any unknown top-level fields moved into its
// ExtraFields (encoded back under "extra_fields"); anything else is
// returned as a plain
// map[string]any (used for HELLO/CAPS/PING/PONG/NACK control bodies).
type JSONCodec struct{}

func (c *JSONCodec) ID() ID { return JSON }

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte) (any, error) {
	var probe struct {
		Kind          *string `json:"kind"`
		SchemaVersion *int    `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	if probe.Kind != nil && probe.SchemaVersion != nil {
		var e ether.Ether
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		var fields map[string]ether.Value
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		for k, v := range fields {
			switch k {
			case "kind", "schema_version", "payload", "metadata", "extra_fields", "attachments":
				continue
			}
			if e.ExtraFields == nil {
				e.ExtraFields = map[string]ether.Value{}
			}
			e.ExtraFields[k] = v
		}
		return &e, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
