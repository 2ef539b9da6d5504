package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// =============================================================================
// Stack Item Parsers
// =============================================================================

// ParseByteArray decodes a ByteString or Buffer item. Neo N3 nodes encode
// the bytes as base64.
func ParseByteArray(item StackItem) ([]byte, error) {
	switch item.Type {
	case "ByteString", "Buffer":
		var value string
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(value)
	case "Null", "Any":
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected type: %s", item.Type)
}

// ParseString parses a UTF-8 string from a StackItem.
func ParseString(item StackItem) (string, error) {
	raw, err := ParseByteArray(item)
	if err != nil {
		return "", fmt.Errorf("parse string: %w", err)
	}
	return string(raw), nil
}
