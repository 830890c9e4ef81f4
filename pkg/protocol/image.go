package protocol

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxImageBytes bounds an attachment before encoding.
const MaxImageBytes = 2 << 20

// EncodeImage sniffs data and returns it as a data: URL. Non-image payloads are rejected.
func EncodeImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyBody
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooBig, len(data), MaxImageBytes)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotAnImage, mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeImage parses a data: URL produced by EncodeImage (or a browser) and returns the
// raw bytes and the sniffed media type.
func DecodeImage(url string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: not a data URL", ErrNotAnImage)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, "", fmt.Errorf("%w: expected base64 data URL", ErrNotAnImage)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, "", fmt.Errorf("%w: detected %s", ErrNotAnImage, mt.String())
	}
	return data, mt.String(), nil
}
