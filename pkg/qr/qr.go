// Package qr renders QR codes for the bot invite URL so the link can be
// scanned straight off a terminal or saved as an image.
package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultPNGSize is the pixel width used when encoding PNG output.
const DefaultPNGSize = 256

// Terminal renders content as a compact half-block QR code suitable for
// printing to a terminal.
func Terminal(content string) (string, error) {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("qr: encoding: %w", err)
	}
	return code.ToSmallString(false), nil
}

// PNG encodes content as a PNG image. A size of zero or less falls back
// to DefaultPNGSize.
func PNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultPNGSize
	}
	img, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("qr: encoding: %w", err)
	}
	return img, nil
}
