package mcpserver

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxContentSize = 10 << 20 // 10 MB

// decodeContent returns the bytes of a write_file/update_file payload.
// Plain text is taken as is; a data URI is decoded.
func decodeContent(content string) ([]byte, error) {
	var data []byte
	if strings.HasPrefix(content, "data:") {
		d, err := decodeDataURI(content)
		if err != nil {
			return nil, err
		}
		data = d
	} else {
		data = []byte(content)
	}
	if len(data) > maxContentSize {
		return nil, fmt.Errorf("content too large: %d bytes (max %d)", len(data), maxContentSize)
	}
	return data, nil
}

// decodeDataURI parses a data:[<mediatype>];base64,<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, nil
}

// encodeContent renders file content for a tool result: valid UTF-8 as
// text, anything else as a base64 data URI.
func encodeContent(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(data)
}
