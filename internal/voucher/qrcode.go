// internal/voucher/qrcode.go
package voucher

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	qrgen "github.com/skip2/go-qrcode"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
)

// DefaultQRSize is the PNG edge length used when callers pass 0
const DefaultQRSize = 320

// RenderQR encodes payload as a PNG optical code
func RenderQR(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrgen.Encode(payload, qrgen.Medium, size)
	if err != nil {
		return nil, apperrors.NewValidationError("render optical code", err)
	}
	return png, nil
}

// DecodeImage reads the text of the first QR code found in img
func DecodeImage(img image.Image) (string, error) {
	if img == nil {
		return "", apperrors.NewDecodeError("empty frame", nil)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", apperrors.NewDecodeError("unreadable frame", err)
	}
	result, err := zxqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", apperrors.NewDecodeError("no optical code in frame", err)
	}
	return result.GetText(), nil
}

// DecodeFrame decodes an encoded (PNG or JPEG) camera frame
func DecodeFrame(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", apperrors.NewDecodeError("unsupported frame encoding", err)
	}
	return DecodeImage(img)
}
