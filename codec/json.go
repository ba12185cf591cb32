package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// Default is the codec used by Value serializers without an explicit Codec.
var Default Codec = GoJSON{}

// JSON marshals records with encoding/json.
//
// Records round-trip through JSON: unexported fields are dropped and
// interface-typed fields come back as their JSON shape.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                       { return "json" }

// GoJSON marshals records with github.com/goccy/go-json. Its output is
// compatible with JSON, so files written by either decode with both.
//
// HTML escaping is skipped since swap files are never rendered.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.MarshalNoEscape(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
func (GoJSON) Name() string                       { return "go-json" }
