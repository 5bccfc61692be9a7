package images

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/nlsql/nlsql/internal/errors"
)

// MaxFilenameLength bounds uploaded file names.
const MaxFilenameLength = 255

// AllowedExtensions are the accepted image file extensions.
var AllowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"bmp":  true,
	"webp": true,
}

var (
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	gif87     = []byte("GIF87a")
	gif89     = []byte("GIF89a")
	bmpMagic  = []byte("BM")
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9 ._-]+$`)

var scriptPatterns = [][]byte{
	[]byte("<script"),
	[]byte("javascript:"),
	[]byte("<iframe"),
	[]byte("<embed"),
	[]byte("<object"),
	[]byte("<?php"),
	[]byte("<%"),
}

// DetectType identifies an image from its leading bytes. It returns
// png, jpeg, gif, bmp, webp or "".
func DetectType(data []byte) string {
	if len(data) < 12 {
		return ""
	}
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return "png"
	case bytes.HasPrefix(data, jpegMagic):
		return "jpeg"
	case bytes.HasPrefix(data, gif87), bytes.HasPrefix(data, gif89):
		return "gif"
	case bytes.HasPrefix(data, bmpMagic):
		return "bmp"
	case bytes.HasPrefix(data, riffMagic) && bytes.Equal(data[8:12], webpMagic):
		return "webp"
	}
	return ""
}

// SanitizeFilename strips any directory part and checks what is left.
func SanitizeFilename(name string) (string, error) {
	const op errors.Op = "images.SanitizeFilename"

	if name == "" {
		return "", errors.E(op, errors.KindValidation, "filename cannot be empty")
	}
	if strings.Contains(name, "..") {
		return "", errors.E(op, errors.KindValidation, "filename cannot contain '..'")
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))

	switch {
	case !filenamePattern.MatchString(name):
		return "", errors.E(op, errors.KindValidation,
			"filename may only contain letters, digits, spaces, hyphens, underscores and periods")
	case len(name) > MaxFilenameLength:
		return "", errors.E(op, errors.KindValidation, fmt.Sprintf("filename is too long (maximum %d characters)", MaxFilenameLength))
	case strings.HasPrefix(name, "."):
		return "", errors.E(op, errors.KindValidation, "hidden files are not allowed")
	case !strings.Contains(name, "."):
		return "", errors.E(op, errors.KindValidation, "filename must have an extension")
	}
	return name, nil
}

// Extension returns the lowercased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// CheckSize rejects empty files and files above max.
func CheckSize(size, max int64) error {
	const op errors.Op = "images.CheckSize"
	if size <= 0 {
		return errors.E(op, errors.KindValidation, "file is empty")
	}
	if max > 0 && size > max {
		return errors.E(op, errors.KindValidation,
			fmt.Sprintf("file size (%.2fMB) exceeds maximum allowed size (%.0fMB)", float64(size)/(1<<20), float64(max)/(1<<20)))
	}
	return nil
}

// Validate runs every upload check and returns the safe filename and the
// file type taken from its extension.
func Validate(filename string, data []byte, maxSize int64) (name, fileType string, err error) {
	const op errors.Op = "images.Validate"

	if name, err = SanitizeFilename(filename); err != nil {
		return "", "", err
	}
	if err = CheckSize(int64(len(data)), maxSize); err != nil {
		return "", "", err
	}

	ext := Extension(name)
	if !AllowedExtensions[ext] {
		allowed := make([]string, 0, len(AllowedExtensions))
		for e := range AllowedExtensions {
			allowed = append(allowed, e)
		}
		sort.Strings(allowed)
		return "", "", errors.E(op, errors.KindValidation,
			fmt.Sprintf("unsupported file type .%s; allowed types: %s", ext, strings.Join(allowed, ", ")))
	}

	detected := DetectType(data)
	if detected == "" {
		return "", "", errors.E(op, errors.KindValidation, "file does not appear to be a valid image")
	}
	want := ext
	if want == "jpg" {
		want = "jpeg"
	}
	if detected != want {
		return "", "", errors.E(op, errors.KindValidation,
			fmt.Sprintf("file extension .%s does not match file content (%s)", ext, detected))
	}

	if err = CheckEmbeddedScripts(data, detected); err != nil {
		return "", "", err
	}
	return name, ext, nil
}

// CheckEmbeddedScripts looks for markup or server-side code hidden in the
// file. PNG pixel data is compressed and is not scanned.
func CheckEmbeddedScripts(data []byte, fileType string) error {
	region := data
	if fileType == "png" {
		region = pngScanRegion(data)
	}
	lower := asciiLower(region)
	for _, p := range scriptPatterns {
		if bytes.Contains(lower, p) {
			return errors.E(errors.Op("images.CheckEmbeddedScripts"), errors.KindValidation,
				"file contains potentially malicious content (embedded scripts detected)")
		}
	}
	return nil
}

// pngScanRegion returns the payloads of every chunk except IDAT, plus any
// bytes after the last well-formed chunk.
func pngScanRegion(data []byte) []byte {
	out := make([]byte, 0, 256)
	i := len(pngMagic)
	for i+8 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[i : i+4]))
		typ := string(data[i+4 : i+8])
		end := i + 8 + n + 4
		if n < 0 || end > len(data) || end < i {
			break
		}
		if typ != "IDAT" {
			out = append(out, data[i+8:end-4]...)
		}
		i = end
	}
	return append(out, data[i:]...)
}

func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
