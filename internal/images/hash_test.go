package images

import (
	"testing"

	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/testutil"
)

func TestPerceptualHash(t *testing.T) {
	a := testutil.PNG(t, 64, 64, 0)
	b := testutil.PNG(t, 64, 64, 0)

	ha, err := PerceptualHash(a)
	if err != nil {
		t.Fatalf("PerceptualHash failed: %v", err)
	}
	if len(ha) != 16 {
		t.Errorf("hash %q should be 16 hex digits", ha)
	}
	hb, _ := PerceptualHash(b)
	testutil.AssertEqual(t, ha, hb, "identical images hash equally")

	if _, err := PerceptualHash([]byte("\x89PNG\r\n\x1a\ngarbage")); !errors.IsKind(err, errors.KindValidation) {
		t.Errorf("corrupt image should fail validation, got %v", err)
	}
}

func TestSimilarity(t *testing.T) {
	base, _ := PerceptualHash(testutil.PNG(t, 64, 64, 0))
	tinted, _ := PerceptualHash(testutil.TintedPNG(t, 64, 64, 0, 6))
	other, _ := PerceptualHash(testutil.PNG(t, 64, 64, 1))

	sim, err := Similarity(base, tinted)
	if err != nil {
		t.Fatal(err)
	}
	if sim < 0.95 {
		t.Errorf("brightened copy should be similar, got %.3f", sim)
	}

	sim, err = Similarity(base, other)
	if err != nil {
		t.Fatal(err)
	}
	if sim >= 0.95 {
		t.Errorf("different images should not be similar, got %.3f", sim)
	}

	if sim, _ := Similarity("ffffffffffffffff", "0000000000000000"); sim != 0 {
		t.Errorf("opposite hashes should score 0, got %f", sim)
	}
	if sim, _ := Similarity("00000000000000ff", "0000000000000000"); sim != 1-8.0/64 {
		t.Errorf("8 differing bits should score %f, got %f", 1-8.0/64, sim)
	}
	if _, err := Similarity("xyz", "0000000000000000"); !errors.IsKind(err, errors.KindValidation) {
		t.Errorf("invalid hash should fail, got %v", err)
	}
}

func TestContentHash(t *testing.T) {
	testutil.AssertEqual(t, ContentHash([]byte("abc")),
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", "sha256")
}
