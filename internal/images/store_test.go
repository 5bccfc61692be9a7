package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/testutil"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), testutil.TestExecutor(t), Options{
		Directory:   filepath.Join(t.TempDir(), "images"),
		MaxFileSize: 1 << 20,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestOpenCreatesDefaultFolder(t *testing.T) {
	s := openStore(t)
	folders, err := s.ListFolders(context.Background())
	if err != nil {
		t.Fatalf("ListFolders failed: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "default" {
		t.Fatalf("expected only the default folder, got %+v", folders)
	}
	if _, err := os.Stat(s.opts.Directory); err != nil {
		t.Errorf("image directory not created: %v", err)
	}
}

func TestUploadGetDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	data := testutil.PNG(t, 48, 48, 0)

	img, err := s.Upload(ctx, "", "uploads/sunset.png", data)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	testutil.AssertEqual(t, img.OriginalName, "sunset.png", "original name")
	testutil.AssertEqual(t, img.FolderName, "default", "folder")
	testutil.AssertEqual(t, img.FileSize, int64(len(data)), "size")
	testutil.AssertEqual(t, img.Filename, img.ID+".png", "stored name")

	onDisk, err := os.ReadFile(img.FilePath)
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(onDisk) != string(data) {
		t.Error("stored bytes differ from upload")
	}

	got, err := s.Get(ctx, img.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	testutil.AssertEqual(t, got.PHash, img.PHash, "phash")
	testutil.AssertEqual(t, got.ContentHash, img.ContentHash, "content hash")

	if err := s.Delete(ctx, img.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(img.FilePath); !os.IsNotExist(err) {
		t.Error("file should be removed with the image")
	}
	if _, err := s.Get(ctx, img.ID); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "not-a-uuid"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected NotFound for malformed id, got %v", err)
	}
}

func TestUploadRejections(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	png := testutil.PNG(t, 16, 16, 0)

	tests := []struct {
		name     string
		folder   string
		filename string
		data     []byte
		kind     errors.Kind
	}{
		{"missing folder", "nope", "a.png", png, errors.KindNotFound},
		{"invalid folder name", "a;b", "a.png", png, errors.KindInvalidIdentifier},
		{"wrong extension", "", "a.gif", png, errors.KindValidation},
		{"traversal", "", "../a.png", png, errors.KindValidation},
		{"too large", "", "a.png", make([]byte, 2<<20), errors.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Upload(ctx, tt.folder, tt.filename, tt.data)
			if !errors.IsKind(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
		})
	}

	entries, _ := os.ReadDir(s.opts.Directory)
	if len(entries) != 0 {
		t.Errorf("rejected uploads left %d files behind", len(entries))
	}
}

func TestListImages(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.CreateFolder(ctx, "charts"); err != nil {
		t.Fatal(err)
	}
	for i, folder := range []string{"", "charts", "charts"} {
		if _, err := s.Upload(ctx, folder, "img.png", testutil.PNG(t, 16, 16, uint8(i))); err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
	}

	all, total, err := s.List(ctx, "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, total, 3, "total")
	testutil.AssertEqual(t, len(all), 3, "listed")

	charts, total, err := s.List(ctx, "charts", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, total, 2, "charts total")
	testutil.AssertEqual(t, len(charts), 1, "page size")
	testutil.AssertEqual(t, charts[0].FolderName, "charts", "folder name")
}

func TestFolders(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	f, err := s.CreateFolder(ctx, "Q3 reports")
	if err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	testutil.AssertEqual(t, f.ImageCount, 0, "new folder is empty")

	if _, err := s.CreateFolder(ctx, "Q3 reports"); !errors.IsKind(err, errors.KindConflict) {
		t.Errorf("duplicate folder should conflict, got %v", err)
	}
	for _, bad := range []string{"", "a/b", "x--y", " lead", "semi;colon"} {
		if _, err := s.CreateFolder(ctx, bad); !errors.IsKind(err, errors.KindInvalidIdentifier) {
			t.Errorf("CreateFolder(%q) should fail validation, got %v", bad, err)
		}
	}

	renamed, err := s.RenameFolder(ctx, "Q3 reports", "Q4-reports")
	if err != nil {
		t.Fatalf("RenameFolder failed: %v", err)
	}
	testutil.AssertEqual(t, renamed.ID, f.ID, "rename keeps id")
	if _, err := s.RenameFolder(ctx, "Q4-reports", "default"); !errors.IsKind(err, errors.KindConflict) {
		t.Errorf("renaming onto an existing folder should conflict, got %v", err)
	}
	if _, err := s.RenameFolder(ctx, "default", "other"); !errors.IsKind(err, errors.KindValidation) {
		t.Errorf("default folder rename should be refused, got %v", err)
	}

	img, err := s.Upload(ctx, "Q4-reports", "a.png", testutil.PNG(t, 16, 16, 0))
	if err != nil {
		t.Fatal(err)
	}
	folders, _ := s.ListFolders(ctx)
	for _, fl := range folders {
		if fl.Name == "Q4-reports" && (fl.ImageCount != 1 || fl.TotalSize != img.FileSize) {
			t.Errorf("unexpected usage %+v", fl)
		}
	}

	if err := s.DeleteFolder(ctx, "Q4-reports"); !errors.IsKind(err, errors.KindConflict) {
		t.Errorf("non-empty folder delete should conflict, got %v", err)
	}
	if err := s.Delete(ctx, img.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFolder(ctx, "Q4-reports"); err != nil {
		t.Errorf("empty folder delete failed: %v", err)
	}
	if err := s.DeleteFolder(ctx, "Q4-reports"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("second delete should be NotFound, got %v", err)
	}
	if err := s.DeleteFolder(ctx, "default"); !errors.IsKind(err, errors.KindValidation) {
		t.Errorf("default folder delete should be refused, got %v", err)
	}
}

func TestDeleteFolderRacingUpload(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("batch-%d", i)
		if _, err := s.CreateFolder(ctx, name); err != nil {
			t.Fatalf("CreateFolder failed: %v", err)
		}
		data := testutil.PNG(t, 16, 16, uint8(i))

		var wg sync.WaitGroup
		var uploadErr, deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, uploadErr = s.Upload(ctx, name, "scan.png", data)
		}()
		go func() {
			defer wg.Done()
			deleteErr = s.DeleteFolder(ctx, name)
		}()
		wg.Wait()

		if deleteErr != nil && !errors.IsKind(deleteErr, errors.KindConflict) {
			t.Errorf("%s: delete should succeed or conflict, got %v", name, deleteErr)
		}
		if deleteErr == nil && uploadErr == nil {
			t.Errorf("%s: both the upload and the folder delete succeeded", name)
		}
	}
}

func TestCheckDuplicate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	original := testutil.PNG(t, 64, 64, 0)
	stored, err := s.Upload(ctx, "", "original.png", original)
	if err != nil {
		t.Fatal(err)
	}
	other, err := s.Upload(ctx, "", "report.png", testutil.PNG(t, 64, 64, 1))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("exact", func(t *testing.T) {
		m, err := s.CheckDuplicate(ctx, "", "copy.png", original)
		if err != nil {
			t.Fatal(err)
		}
		if len(m) == 0 || m[0].MatchType != MatchExact || m[0].ImageID != stored.ID || m[0].Similarity != 1 {
			t.Errorf("unexpected matches %+v", m)
		}
	})

	t.Run("similar", func(t *testing.T) {
		m, err := s.CheckDuplicate(ctx, "", "brighter.png", testutil.TintedPNG(t, 64, 64, 0, 6))
		if err != nil {
			t.Fatal(err)
		}
		if len(m) == 0 || m[0].MatchType != MatchSimilar || m[0].ImageID != stored.ID {
			t.Errorf("unexpected matches %+v", m)
		}
	})

	t.Run("filename", func(t *testing.T) {
		m, err := s.CheckDuplicate(ctx, "", "report.png", testutil.PNG(t, 64, 64, 2))
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, x := range m {
			if x.ImageID == other.ID && x.MatchType == MatchFilename {
				found = true
			}
		}
		if !found {
			t.Errorf("expected a filename match, got %+v", m)
		}
	})

	t.Run("other folder", func(t *testing.T) {
		if _, err := s.CreateFolder(ctx, "empty"); err != nil {
			t.Fatal(err)
		}
		m, err := s.CheckDuplicate(ctx, "empty", "original.png", original)
		if err != nil {
			t.Fatal(err)
		}
		if len(m) != 0 {
			t.Errorf("matches should be limited to the folder, got %+v", m)
		}
	})
}
