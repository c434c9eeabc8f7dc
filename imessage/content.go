package imessage

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// CleanBody removes attachment placeholders and surrounding whitespace
func CleanBody(content string) string {
	if content == "" {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(content, ObjectReplacement, ""))
}

// DecodeAttributedBody extracts text from a typedstream NSAttributedString blob.
// This is a pragmatic extraction, not a full decoder: it finds the NSString
// class marker and reads the length-prefixed UTF-8 payload that follows.
func DecodeAttributedBody(attributedBody []byte) string {
	if len(attributedBody) == 0 {
		return ""
	}

	idx := bytes.Index(attributedBody, []byte("NSString"))
	if idx < 0 {
		return ""
	}
	rest := attributedBody[idx+len("NSString"):]

	// Class header bytes precede a '+' that introduces the string value
	plus := bytes.IndexByte(rest, '+')
	if plus < 0 || plus > 8 || plus+1 >= len(rest) {
		return ""
	}
	rest = rest[plus+1:]

	n := int(rest[0])
	rest = rest[1:]
	switch n {
	case 0x81:
		if len(rest) < 2 {
			return ""
		}
		n = int(binary.LittleEndian.Uint16(rest))
		rest = rest[2:]
	case 0x82:
		if len(rest) < 4 {
			return ""
		}
		n = int(binary.LittleEndian.Uint32(rest))
		rest = rest[4:]
	}
	if n > len(rest) {
		return ""
	}

	return strings.TrimSpace(string(rest[:n]))
}
