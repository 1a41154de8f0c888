package jsonx

import "github.com/goccy/go-json"

// Thin wrapper so hot paths (event log, cycle log) can swap JSON
// implementations in one place.
var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
)

type RawMessage = json.RawMessage
