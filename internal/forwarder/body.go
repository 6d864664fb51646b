package forwarder

import "encoding/json"

// ResponseBody is a tagged variant modeling the three shapes an upstream
// response can normalize into: a raw buffer, a decoded JSON object, or a
// plain string wrapped for the client. Handlers pattern-match on it to
// choose how to write the response out.
type ResponseBody struct {
	kind   bodyKind
	object any
	buffer []byte
	str    string
}

type bodyKind int

const (
	kindBuffer bodyKind = iota
	kindObject
	kindString
)

// BufferBody wraps a raw byte payload (passed through as-is).
func BufferBody(b []byte) ResponseBody {
	return ResponseBody{kind: kindBuffer, buffer: b}
}

// ObjectBody wraps an already-decoded JSON value.
func ObjectBody(v any) ResponseBody {
	return ResponseBody{kind: kindObject, object: v}
}

// StringBody wraps a plain string value, e.g. the fallback
// {value:<string>} envelope case for a non-JSON response body.
func StringBody(s string) ResponseBody {
	return ResponseBody{kind: kindString, str: s}
}

// NormalizeUpstreamBody applies the 2xx body rule: if the upstream body
// parses as JSON, pass it through as an object; if it is non-empty but
// not JSON, wrap it as {value:<string>}; an empty body stays a raw
// (empty) buffer.
func NormalizeUpstreamBody(raw []byte) ResponseBody {
	if len(raw) == 0 {
		return BufferBody(raw)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return ObjectBody(v)
	}
	return StringBody(string(raw))
}

// Encode renders the variant to bytes + content-type.
func (b ResponseBody) Encode() (data []byte, contentType string, err error) {
	switch b.kind {
	case kindBuffer:
		return b.buffer, "application/octet-stream", nil
	case kindString:
		wrapped, err := json.Marshal(map[string]string{"value": b.str})
		if err != nil {
			return nil, "", err
		}
		return wrapped, "application/json; charset=utf-8", nil
	case kindObject:
		data, err := json.Marshal(b.object)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json; charset=utf-8", nil
	default:
		return nil, "", nil
	}
}
