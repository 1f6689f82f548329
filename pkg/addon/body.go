package addon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/wlynxg/chardet"
	"github.com/wlynxg/chardet/consts"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// toUTF8 converts payloads of older addons that still answer in Latin-1. Valid UTF-8 is returned untouched.
func toUTF8(data []byte) ([]byte, error) {
	if utf8.Valid(data) {
		return data, nil
	}
	switch chardet.Detect(data).Encoding {
	case consts.ISO88591:
		tr := transform.NewReader(bytes.NewReader(data), charmap.ISO8859_1.NewDecoder())
		return io.ReadAll(tr)
	default:
		tr := transform.NewReader(bytes.NewReader(data), charmap.Windows1252.NewDecoder())
		return io.ReadAll(tr)
	}
}

func decodeJSON(r io.Reader, limit int64, v any) error {
	data, err := readAllBounded(r, limit)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	data, err = toUTF8(data)
	if err != nil {
		return fmt.Errorf("failed to transcode body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to json.Unmarshal: %w", err)
	}
	return nil
}
