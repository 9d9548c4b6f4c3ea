package report

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// CompressionGzip is the compression algorithm value that marks gzip framing.
const CompressionGzip = "GZIP"

// DecodeDocument unwraps optional gzip framing and decodes the bytes as text.
// Bytes that are not valid UTF-8 are decoded as Windows-1252, which is what
// several marketplaces emit for flat-file reports.
func DecodeDocument(data []byte, compression string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(compression), CompressionGzip) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("failed to open gzip document: %w", err)
		}
		defer zr.Close()

		data, err = io.ReadAll(zr)
		if err != nil {
			return "", fmt.Errorf("failed to decompress document: %w", err)
		}
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode document text: %w", err)
	}
	return string(decoded), nil
}
