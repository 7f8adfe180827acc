package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// WriteJSON writes the bundle as a single indented JSON document.
func (b *Bundle) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	return nil
}

// WriteEventsJSONL streams the bundle's events one JSON object per line, the
// same record shape the node persists. Useful for piping chains into log
// tooling.
func (b *Bundle) WriteEventsJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range b.Events {
		if err := enc.Encode(&b.Events[i]); err != nil {
			return fmt.Errorf("encode event %d: %w", i, err)
		}
	}
	return nil
}

// ReadBundle parses a bundle from a JSON stream.
func ReadBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	dec := json.NewDecoder(r)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &b, nil
}

// ReadBundleFile loads a bundle from disk for offline verification.
func ReadBundleFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer f.Close()
	return ReadBundle(f)
}
