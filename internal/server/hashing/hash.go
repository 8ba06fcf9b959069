// Package hashing computes the content hash used for deduplication.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Raw returns the hex SHA-256 of body.
func Raw(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the dedup hash for body. Image content types are
// hashed over their decoded pixels and dimensions so that metadata-only
// differences (EXIF, text chunks) collapse to one hash; normalized reports
// whether that happened. Any other content, or an image that fails to
// decode, is hashed raw.
func ContentHash(body []byte, contentType string) (hash string, normalized bool) {
	if !IsImage(contentType) {
		return Raw(body), false
	}
	h, err := imageHash(body)
	if err != nil {
		return Raw(body), false
	}
	return h, true
}

// IsImage reports whether contentType is a decodable image type.
func IsImage(contentType string) bool {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff":
		return true
	}
	return false
}

func imageHash(body []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	h := sha256.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:8], uint32(b.Dy()))
	h.Write([]byte("img:"))
	h.Write(dims[:])
	for y := 0; y < rgba.Rect.Dy(); y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+rgba.Rect.Dx()*4]
		h.Write(row)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
