package encoding

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ValentinKolb/kvcore/lib/kv"
	"github.com/google/go-cmp/cmp"
)

type profile struct {
	Name string   `json:"name"`
	Age  int      `json:"age"`
	Tags []string `json:"tags"`
}

func TestEncodeFormats(t *testing.T) {
	tc := NewDefaultTranscoder()

	tests := []struct {
		name       string
		value      interface{}
		hint       ContentHint
		wantData   string
		wantFormat Format
	}{
		{"auto bytes", []byte{0x01, 0x02}, HintAuto, "\x01\x02", FormatBinary},
		{"auto string", "hello", HintAuto, "hello", FormatString},
		{"auto struct", profile{Name: "a", Age: 3}, HintAuto, `{"name":"a","age":3,"tags":null}`, FormatJSON},
		{"json nil", nil, HintJSON, "null", FormatJSON},
		{"json string", "hello", HintJSON, `"hello"`, FormatJSON},
		{"raw json", json.RawMessage(`{"a":1}`), HintJSON, `{"a":1}`, FormatJSON},
		{"binary", []byte("raw"), HintBinary, "raw", FormatBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, flags, err := tc.Encode(tt.value, tt.hint)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(data) != tt.wantData {
				t.Errorf("Encode() data = %q, want %q", data, tt.wantData)
			}
			if got := FormatOf(flags); got != tt.wantFormat {
				t.Errorf("Encode() format = %s, want %s", got, tt.wantFormat)
			}
		})
	}
}

func TestEncodeFailures(t *testing.T) {
	tc := NewDefaultTranscoder()

	tests := []struct {
		name  string
		value interface{}
		hint  ContentHint
	}{
		{"channel", make(chan int), HintAuto},
		{"string hint with int", 42, HintString},
		{"invalid utf8", string([]byte{0xff, 0xfe}), HintString},
		{"binary hint with string", "x", HintBinary},
		{"invalid raw json", json.RawMessage(`{`), HintJSON},
		{"unknown hint", "x", ContentHint(99)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tc.Encode(tt.value, tt.hint)
			if !errors.Is(err, kv.ErrEncodingFailure) {
				t.Errorf("Encode() error = %v, want encoding failure", err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tc := NewDefaultTranscoder()

	in := profile{Name: "alice", Age: 30, Tags: []string{"x", "y"}}
	data, flags, err := tc.Encode(in, HintAuto)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var out profile
	if err := tc.Decode(data, flags, &out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	data, flags, _ = tc.Encode("héllo", HintAuto)
	var s string
	if err := tc.Decode(data, flags, &s); err != nil || s != "héllo" {
		t.Errorf("Decode() = (%q, %v), want héllo", s, err)
	}

	data, flags, _ = tc.Encode([]byte{0, 1, 2}, HintAuto)
	var v interface{}
	if err := tc.Decode(data, flags, &v); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff([]byte{0, 1, 2}, v); diff != "" {
		t.Errorf("binary into interface{} mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFailures(t *testing.T) {
	tc := NewDefaultTranscoder()

	var s string
	var n int
	var p *profile

	tests := []struct {
		name   string
		data   []byte
		flags  uint32
		target interface{}
	}{
		{"nil target", []byte("x"), FormatString.Flags(), nil},
		{"non pointer", []byte("x"), FormatString.Flags(), s},
		{"nil pointer", []byte(`{}`), FormatJSON.Flags(), p},
		{"binary into int", []byte{1}, FormatBinary.Flags(), &n},
		{"string into int", []byte("x"), FormatString.Flags(), &n},
		{"broken json", []byte(`{"name":`), FormatJSON.Flags(), &profile{}},
		{"unknown format", []byte("x"), 0x7f << 24, &s},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tc.Decode(tt.data, tt.flags, tt.target)
			if !errors.Is(err, kv.ErrDecodingFailure) {
				t.Errorf("Decode() error = %v, want decoding failure", err)
			}
		})
	}
}

func TestLegacyFlagsDecodeAsBinary(t *testing.T) {
	tc := NewDefaultTranscoder()

	var out []byte
	if err := tc.Decode([]byte("legacy"), 0, &out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if string(out) != "legacy" {
		t.Errorf("Decode() = %q, want legacy", out)
	}
}

func TestParseContentHint(t *testing.T) {
	tests := []struct {
		in      string
		want    ContentHint
		wantErr bool
	}{
		{"", HintAuto, false},
		{"auto", HintAuto, false},
		{"raw", HintBinary, false},
		{"binary", HintBinary, false},
		{"string", HintString, false},
		{"json", HintJSON, false},
		{"xml", HintAuto, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseContentHint(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseContentHint() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseContentHint() = %d, want %d", got, tt.want)
			}
		})
	}
}
