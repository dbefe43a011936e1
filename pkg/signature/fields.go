package signature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
)

// FromValues flattens a query string or form. Repeated keys keep the first value.
func FromValues(v url.Values) Fields {
	out := make(Fields, len(v))
	for k, vs := range v {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// FromJSON flattens a JSON object. Numbers keep their literal text so that
// the pre-image matches what the provider signed.
func FromJSON(body []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("signature: decode json: %w", err)
	}
	out := make(Fields, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case bool:
			if t {
				out[k] = "true"
			} else {
				out[k] = "false"
			}
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("signature: field %q: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

// JSON renders the fields for storage as an audit snapshot.
func (f Fields) JSON() []byte {
	b, err := json.Marshal(map[string]string(f))
	if err != nil {
		return []byte("{}")
	}
	return b
}
