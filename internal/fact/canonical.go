package fact

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// canonicalPreimage serializes the identity preimage
// [0, author, created_at, kind, tags, content] deterministically:
// strings NFC-normalized, no HTML escaping, no insignificant whitespace.
// Two facts with the same logical content always hash identically,
// regardless of which peer serialized them.
func canonicalPreimage(f Fact) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("[0,")

	author, err := canonicalString(f.Author)
	if err != nil {
		return nil, fmt.Errorf("author: %w", err)
	}
	buf.Write(author)

	fmt.Fprintf(&buf, ",%d,%d,[", f.CreatedAt, f.Kind)
	for i, t := range f.Tags {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for j, s := range t {
			if j > 0 {
				buf.WriteByte(',')
			}
			cs, err := canonicalString(s)
			if err != nil {
				return nil, fmt.Errorf("tag[%d][%d]: %w", i, j, err)
			}
			buf.Write(cs)
		}
		buf.WriteByte(']')
	}
	buf.WriteString("],")

	content, err := canonicalString(f.Content)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	buf.Write(content)
	buf.WriteByte(']')

	return buf.Bytes(), nil
}

// canonicalString encodes s as a JSON string with NFC normalization and
// HTML escaping disabled. < > & must survive unescaped or peers that use
// plain JSON encoders would compute different ids for the same fact.
func canonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds a trailing newline, remove it.
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}
