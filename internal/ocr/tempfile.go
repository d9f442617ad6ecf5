package ocr

import (
	"fmt"
	"os"
)

// writeTemp spills data to a temp file so external tools can read it.
// The returned cleanup removes the file.
func writeTemp(data []byte, ext string) (string, func(), error) {
	f, err := os.CreateTemp("", "rp-ocr-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}
