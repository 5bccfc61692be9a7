package images

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/nlsql/nlsql/internal/errors"
)

// hashBits is the size of a perceptual hash.
const hashBits = 64

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PerceptualHash decodes data and returns its 64-bit DCT hash as 16 hex
// digits.
func PerceptualHash(data []byte) (string, error) {
	const op errors.Op = "images.PerceptualHash"

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", errors.E(op, errors.KindValidation, err, "image could not be decoded")
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", errors.E(op, errors.KindValidation, err, "failed to compute perceptual hash")
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}

// Similarity compares two hashes from PerceptualHash. 1.0 means identical
// and 0.0 means every bit differs.
func Similarity(a, b string) (float64, error) {
	ha, err := parseHash(a)
	if err != nil {
		return 0, err
	}
	hb, err := parseHash(b)
	if err != nil {
		return 0, err
	}
	dist, err := ha.Distance(hb)
	if err != nil {
		return 0, errors.E(errors.Op("images.Similarity"), errors.KindValidation, err)
	}
	return 1 - float64(dist)/hashBits, nil
}

func parseHash(s string) (*goimagehash.ImageHash, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil || len(s) != hashBits/4 {
		return nil, errors.E(errors.Op("images.parseHash"), errors.KindValidation, fmt.Sprintf("invalid perceptual hash %q", s))
	}
	return goimagehash.NewImageHash(v, goimagehash.PHash), nil
}
