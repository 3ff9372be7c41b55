package encoding

import (
	"encoding/json"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/ValentinKolb/kvcore/lib/kv"
)

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// Format is the value format stored in the top byte of the document flags.
type Format uint8

const (
	FormatLegacy Format = 0x00 // flags written by clients that do not set a format
	FormatJSON   Format = 0x02
	FormatBinary Format = 0x03
	FormatString Format = 0x04
)

// String returns the string representation of a Format.
func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "binary"
	case FormatString:
		return "string"
	default:
		return "unknown"
	}
}

// Flags returns the document flags for the format.
func (f Format) Flags() uint32 {
	return uint32(f) << 24
}

// FormatOf extracts the format from document flags.
func FormatOf(flags uint32) Format {
	return Format(flags >> 24)
}

// ContentHint tells the transcoder how the caller wants a value stored.
type ContentHint uint8

const (
	HintAuto   ContentHint = iota // []byte as binary, string as string, everything else as JSON
	HintBinary                    // value must be a []byte
	HintString                    // value must be a string (valid UTF-8)
	HintJSON                      // value is marshalled to JSON
)

// ParseContentHint converts a string (as used by the cli) into a ContentHint.
func ParseContentHint(s string) (ContentHint, error) {
	switch s {
	case "", "auto":
		return HintAuto, nil
	case "binary", "raw":
		return HintBinary, nil
	case "string":
		return HintString, nil
	case "json":
		return HintJSON, nil
	default:
		return HintAuto, kv.Errorf(kv.KindInvalidArgument, "unknown format %q (expected auto, binary, string, json)", s)
	}
}

// --------------------------------------------------------------------------
// Transcoder
// --------------------------------------------------------------------------

// Transcoder converts between typed values and document bodies.
type Transcoder interface {
	// Encode converts value into bytes plus flags marking the format.
	Encode(value interface{}, hint ContentHint) (data []byte, flags uint32, err error)
	// Decode converts bytes back into target, which must be a non-nil pointer.
	Decode(data []byte, flags uint32, target interface{}) error
}

// NewDefaultTranscoder creates the transcoder used when the caller does not
// configure one. It handles raw binary, raw strings and JSON.
func NewDefaultTranscoder() Transcoder {
	return &defaultTranscoder{}
}

type defaultTranscoder struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see Transcoder)
// --------------------------------------------------------------------------

func (t *defaultTranscoder) Encode(value interface{}, hint ContentHint) ([]byte, uint32, error) {
	if hint == HintAuto {
		switch value.(type) {
		case []byte:
			hint = HintBinary
		case string:
			hint = HintString
		default:
			hint = HintJSON
		}
	}

	switch hint {
	case HintBinary:
		b, ok := value.([]byte)
		if !ok {
			return nil, 0, kv.Errorf(kv.KindEncodingFailure, "binary format requires []byte, got %T", value)
		}
		return b, FormatBinary.Flags(), nil

	case HintString:
		s, ok := value.(string)
		if !ok {
			return nil, 0, kv.Errorf(kv.KindEncodingFailure, "string format requires string, got %T", value)
		}
		if !utf8.ValidString(s) {
			return nil, 0, kv.NewError(kv.KindEncodingFailure, "string value is not valid UTF-8")
		}
		return []byte(s), FormatString.Flags(), nil

	case HintJSON:
		if value == nil {
			return []byte("null"), FormatJSON.Flags(), nil
		}
		if raw, ok := value.(json.RawMessage); ok {
			if !json.Valid(raw) {
				return nil, 0, kv.NewError(kv.KindEncodingFailure, "raw json value is not valid json")
			}
			return raw, FormatJSON.Flags(), nil
		}
		// json reports cycles as UnsupportedValueError
		data, err := json.Marshal(value)
		if err != nil {
			return nil, 0, kv.WrapError(kv.KindEncodingFailure, err, fmt.Sprintf("cannot encode %T as json", value))
		}
		return data, FormatJSON.Flags(), nil

	default:
		return nil, 0, kv.Errorf(kv.KindEncodingFailure, "unknown content hint %d", hint)
	}
}

func (t *defaultTranscoder) Decode(data []byte, flags uint32, target interface{}) error {
	rv := reflect.ValueOf(target)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return kv.Errorf(kv.KindDecodingFailure, "decode target must be a non-nil pointer, got %T", target)
	}

	format := FormatOf(flags)
	switch format {
	case FormatBinary, FormatLegacy:
		switch out := target.(type) {
		case *[]byte:
			*out = append((*out)[:0], data...)
			return nil
		case *interface{}:
			*out = append([]byte(nil), data...)
			return nil
		}
		return kv.Errorf(kv.KindDecodingFailure, "cannot decode %s value into %T", format, target)

	case FormatString:
		switch out := target.(type) {
		case *string:
			*out = string(data)
			return nil
		case *[]byte:
			*out = append((*out)[:0], data...)
			return nil
		case *interface{}:
			*out = string(data)
			return nil
		}
		return kv.Errorf(kv.KindDecodingFailure, "cannot decode %s value into %T", format, target)

	case FormatJSON:
		if out, ok := target.(*[]byte); ok {
			*out = append((*out)[:0], data...)
			return nil
		}
		if err := json.Unmarshal(data, target); err != nil {
			return kv.WrapError(kv.KindDecodingFailure, err, fmt.Sprintf("cannot decode json into %T", target))
		}
		return nil

	default:
		return kv.Errorf(kv.KindDecodingFailure, "unknown value format 0x%02x", uint8(format))
	}
}
