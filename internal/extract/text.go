package extract

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// extractText decodes plain-text content, trying UTF-8 first, then UTF-16
// when a byte-order mark is present, then Latin-1 as the lossless fallback.
func extractText(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, []byte{0xEF, 0xBB, 0xBF})

	if s, ok := decodeUTF16(content); ok {
		return cleanText(s), nil
	}
	if utf8.Valid(content) {
		return cleanText(string(content)), nil
	}
	return cleanText(decodeLatin1(content)), nil
}

// decodeUTF16 decodes content as UTF-16 when it starts with a BOM.
func decodeUTF16(content []byte) (string, bool) {
	if len(content) < 2 || len(content)%2 != 0 {
		return "", false
	}

	var order binary.ByteOrder
	switch {
	case content[0] == 0xFF && content[1] == 0xFE:
		order = binary.LittleEndian
	case content[0] == 0xFE && content[1] == 0xFF:
		order = binary.BigEndian
	default:
		return "", false
	}

	content = content[2:]
	units := make([]uint16, 0, len(content)/2)
	for i := 0; i+1 < len(content); i += 2 {
		units = append(units, order.Uint16(content[i:]))
	}
	return string(utf16.Decode(units)), true
}

// decodeLatin1 maps each byte to the Unicode code point of the same value.
// Every byte sequence is decodable, so this never fails.
func decodeLatin1(content []byte) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, c := range content {
		b.WriteRune(rune(c))
	}
	return b.String()
}
