package plantuml

import (
	"bytes"
	"compress/flate"
	"fmt"
	"strings"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

// Encode produces the text form the PlantUML server expects in its URL path:
// raw deflate followed by PlantUML's own base64 variant.
func Encode(source string) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("create deflate writer: %w", err)
	}
	if _, err := w.Write([]byte(source)); err != nil {
		return "", fmt.Errorf("deflate source: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close deflate writer: %w", err)
	}
	return encode64(buf.Bytes()), nil
}

// encode64 pads the trailing group with zero bytes, like the reference
// encoder, so the output length is always a multiple of four.
func encode64(data []byte) string {
	var sb strings.Builder
	sb.Grow((len(data) + 2) / 3 * 4)

	for i := 0; i < len(data); i += 3 {
		var b1, b2, b3 byte
		b1 = data[i]
		if i+1 < len(data) {
			b2 = data[i+1]
		}
		if i+2 < len(data) {
			b3 = data[i+2]
		}
		sb.WriteByte(alphabet[b1>>2])
		sb.WriteByte(alphabet[((b1&0x3)<<4)|(b2>>4)])
		sb.WriteByte(alphabet[((b2&0xF)<<2)|(b3>>6)])
		sb.WriteByte(alphabet[b3&0x3F])
	}
	return sb.String()
}
