// Package images stores uploaded images on disk with their metadata in
// SQLite, organizes them in folders and finds duplicates.
package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nlsql/nlsql/internal/database"
	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/metrics"
)

// Bookkeeping tables.
const (
	FilesTable   = "image_files"
	FoldersTable = "image_folders"
)

var (
	filesTable   = database.MustIdentifier(FilesTable, database.TableIdent)
	foldersTable = database.MustIdentifier(FoldersTable, database.TableIdent)
)

// Match types reported by CheckDuplicate.
const (
	MatchExact    = "exact"
	MatchSimilar  = "similar"
	MatchFilename = "filename"
)

// Options configures a Store.
type Options struct {
	Directory           string
	MaxFileSize         int64
	SimilarityThreshold float64
	DefaultFolder       string
}

// Image is the metadata of a stored image.
type Image struct {
	ID           string    `db:"id" json:"id"`
	Filename     string    `db:"filename" json:"filename"`
	OriginalName string    `db:"original_name" json:"original_name"`
	FolderID     int64     `db:"folder_id" json:"folder_id"`
	FolderName   string    `db:"folder_name" json:"folder_name"`
	FileType     string    `db:"file_type" json:"file_type"`
	FileSize     int64     `db:"file_size" json:"file_size"`
	ContentHash  string    `db:"content_hash" json:"content_hash"`
	PHash        string    `db:"phash" json:"phash"`
	FilePath     string    `db:"file_path" json:"-"`
	UploadDate   time.Time `db:"upload_date" json:"upload_date"`
}

// Folder groups images.
type Folder struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"folder_name" json:"folder_name"`
	ImageCount int       `db:"image_count" json:"image_count"`
	TotalSize  int64     `db:"total_size" json:"total_size"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Match is a stored image resembling a candidate upload.
type Match struct {
	ImageID      string  `json:"image_id"`
	OriginalName string  `json:"original_name"`
	MatchType    string  `json:"match_type"`
	Similarity   float64 `json:"similarity"`
}

const imageColumns = `i."id", i."filename", i."original_name", i."folder_id", f."folder_name", i."file_type",
	i."file_size", i."content_hash", i."phash", i."file_path", i."upload_date"`

// folderSelect reads folders with their usage. Timestamps stay plain
// column references so the driver parses them.
var folderSelect = `SELECT f."id", f."folder_name", f."created_at", f."updated_at",
	(SELECT COUNT(*) FROM ` + database.Quote(filesTable) + ` i WHERE i."folder_id" = f."id") AS "image_count",
	(SELECT COALESCE(SUM(i."file_size"), 0) FROM ` + database.Quote(filesTable) + ` i WHERE i."folder_id" = f."id") AS "total_size"
	FROM ` + database.Quote(foldersTable) + ` f`

// Store manages images and folders.
type Store struct {
	x    *database.Executor
	opts Options
	log  zerolog.Logger
	now  func() time.Time
}

// Open prepares the image directory and tables and makes sure the default
// folder exists.
func Open(ctx context.Context, x *database.Executor, opts Options, log zerolog.Logger) (*Store, error) {
	const op errors.Op = "images.Open"

	if opts.Directory == "" {
		return nil, errors.E(op, errors.KindConfig, "image directory is not set")
	}
	if opts.DefaultFolder == "" {
		opts.DefaultFolder = "default"
	}
	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold > 1 {
		opts.SimilarityThreshold = 0.95
	}
	if _, err := database.ValidateIdentifier(opts.DefaultFolder, database.FolderIdent); err != nil {
		return nil, errors.WrapMsg(op, "invalid default folder", err)
	}
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, errors.E(op, errors.KindIO, err, "failed to create image directory")
	}

	s := &Store{
		x:    x,
		opts: opts,
		log:  log.With().Str("component", "images").Logger(),
		now:  time.Now,
	}

	ddl := []database.Statement{
		database.Classify(`CREATE TABLE IF NOT EXISTS `+database.Quote(foldersTable)+` (
			"id" INTEGER PRIMARY KEY AUTOINCREMENT,
			"folder_name" TEXT NOT NULL UNIQUE,
			"created_at" TIMESTAMP NOT NULL,
			"updated_at" TIMESTAMP NOT NULL
		)`, foldersTable),
		database.Classify(`CREATE TABLE IF NOT EXISTS `+database.Quote(filesTable)+` (
			"id" TEXT PRIMARY KEY,
			"filename" TEXT NOT NULL,
			"original_name" TEXT NOT NULL,
			"folder_id" INTEGER NOT NULL REFERENCES `+database.Quote(foldersTable)+` ("id"),
			"file_type" TEXT NOT NULL,
			"file_size" INTEGER NOT NULL,
			"content_hash" TEXT NOT NULL,
			"phash" TEXT NOT NULL,
			"file_path" TEXT NOT NULL,
			"upload_date" TIMESTAMP NOT NULL
		)`, filesTable, foldersTable),
	}
	err := x.InTx(ctx, func(tx *database.Tx) error {
		for _, stmt := range ddl {
			if _, err := tx.Execute(ctx, stmt, nil, true); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		_, err := tx.Write(ctx, `INSERT OR IGNORE INTO `+database.Quote(foldersTable)+
			` ("folder_name", "created_at", "updated_at") VALUES (?, ?, ?)`, opts.DefaultFolder, now, now)
		return err
	})
	if err != nil {
		return nil, errors.WrapMsg(op, "failed to prepare image tables", err)
	}
	return s, nil
}

// DefaultFolder returns the name of the folder used when none is given.
func (s *Store) DefaultFolder() string { return s.opts.DefaultFolder }

// Upload validates and stores one image in folder (the default folder when
// empty).
func (s *Store) Upload(ctx context.Context, folder, filename string, data []byte) (img *Image, err error) {
	const op errors.Op = "images.Upload"
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordUpload("image", status, 0)
	}()

	name, ext, err := Validate(filename, data, s.opts.MaxFileSize)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	f, err := s.folder(ctx, folder)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	phash, err := PerceptualHash(data)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	id := uuid.NewString()
	stored := id + "." + ext
	img = &Image{
		ID:           id,
		Filename:     stored,
		OriginalName: name,
		FolderID:     f.ID,
		FolderName:   f.Name,
		FileType:     ext,
		FileSize:     int64(len(data)),
		ContentHash:  ContentHash(data),
		PHash:        phash,
		FilePath:     filepath.Join(s.opts.Directory, stored),
		UploadDate:   s.now().UTC(),
	}

	if err := os.WriteFile(img.FilePath, data, 0o644); err != nil {
		return nil, errors.E(op, errors.KindIO, err, "failed to write image file")
	}
	_, err = s.x.Write(ctx, `INSERT INTO `+database.Quote(filesTable)+
		` ("id", "filename", "original_name", "folder_id", "file_type", "file_size", "content_hash", "phash", "file_path", "upload_date")
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.Filename, img.OriginalName, img.FolderID, img.FileType, img.FileSize,
		img.ContentHash, img.PHash, img.FilePath, img.UploadDate)
	if err != nil {
		errors.IgnoreError(s.log, os.Remove(img.FilePath), "removing image file after failed insert")
		return nil, errors.Wrap(op, err)
	}

	s.log.Info().
		Str("id", img.ID).
		Str("folder", f.Name).
		Str("type", img.FileType).
		Int64("size", img.FileSize).
		Msg("image stored")
	return img, nil
}

// Get returns an image's metadata.
func (s *Store) Get(ctx context.Context, id string) (*Image, error) {
	const op errors.Op = "images.Get"

	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.E(op, errors.KindNotFound, "image not found")
	}
	var found []Image
	err := s.x.Select(ctx, &found, `SELECT `+imageColumns+` FROM `+database.Quote(filesTable)+` i
		JOIN `+database.Quote(foldersTable)+` f ON f."id" = i."folder_id" WHERE i."id" = ?`, id)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if len(found) == 0 {
		return nil, errors.E(op, errors.KindNotFound, "image not found")
	}
	return &found[0], nil
}

// List returns images newest first, optionally limited to one folder, and
// the total number matching.
func (s *Store) List(ctx context.Context, folder string, limit, offset int) ([]Image, int, error) {
	const op errors.Op = "images.List"

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where, args := "", []any{}
	if folder != "" {
		f, err := s.folder(ctx, folder)
		if err != nil {
			return nil, 0, errors.Wrap(op, err)
		}
		where, args = ` WHERE i."folder_id" = ?`, append(args, f.ID)
	}

	count, err := s.x.Query(ctx, `SELECT COUNT(*) FROM `+database.Quote(filesTable)+` i`+where, args...)
	if err != nil {
		return nil, 0, errors.Wrap(op, err)
	}

	list := []Image{}
	err = s.x.Select(ctx, &list, `SELECT `+imageColumns+` FROM `+database.Quote(filesTable)+` i
		JOIN `+database.Quote(foldersTable)+` f ON f."id" = i."folder_id"`+where+`
		ORDER BY i."upload_date" DESC, i."rowid" DESC LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(op, err)
	}
	return list, int(count.Rows[0][0].Int), nil
}

// Delete removes an image and its file.
func (s *Store) Delete(ctx context.Context, id string) error {
	const op errors.Op = "images.Delete"

	img, err := s.Get(ctx, id)
	if err != nil {
		return errors.Wrap(op, err)
	}
	res, err := s.x.Write(ctx, `DELETE FROM `+database.Quote(filesTable)+` WHERE "id" = ?`, img.ID)
	if err != nil {
		return errors.Wrap(op, err)
	}
	if res.RowsAffected == 0 {
		return errors.E(op, errors.KindNotFound, "image not found")
	}
	if err := os.Remove(img.FilePath); err != nil && !os.IsNotExist(err) {
		errors.LogAndContinue(s.log, "removing image file", err)
	}
	s.log.Info().Str("id", img.ID).Msg("image deleted")
	return nil
}

// CheckDuplicate compares a candidate upload against the images already in
// folder. Results are ordered by similarity, highest first.
func (s *Store) CheckDuplicate(ctx context.Context, folder, filename string, data []byte) ([]Match, error) {
	const op errors.Op = "images.CheckDuplicate"

	name, _, err := Validate(filename, data, s.opts.MaxFileSize)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	f, err := s.folder(ctx, folder)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	phash, err := PerceptualHash(data)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	hash := ContentHash(data)

	var stored []Image
	err = s.x.Select(ctx, &stored, `SELECT `+imageColumns+` FROM `+database.Quote(filesTable)+` i
		JOIN `+database.Quote(foldersTable)+` f ON f."id" = i."folder_id" WHERE i."folder_id" = ?`, f.ID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	matches := []Match{}
	for _, img := range stored {
		sim, err := Similarity(phash, img.PHash)
		if err != nil {
			errors.LogAndContinue(s.log, "comparing perceptual hashes", err)
			sim = 0
		}
		m := Match{ImageID: img.ID, OriginalName: img.OriginalName, Similarity: sim}
		switch {
		case img.ContentHash == hash:
			m.MatchType, m.Similarity = MatchExact, 1
		case sim >= s.opts.SimilarityThreshold:
			m.MatchType = MatchSimilar
		case img.OriginalName == name:
			m.MatchType = MatchFilename
		default:
			continue
		}
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches, nil
}

// CreateFolder adds a folder.
func (s *Store) CreateFolder(ctx context.Context, name string) (*Folder, error) {
	const op errors.Op = "images.CreateFolder"

	id, err := database.ValidateIdentifier(name, database.FolderIdent)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	now := s.now().UTC()
	_, err = s.x.Write(ctx, `INSERT INTO `+database.Quote(foldersTable)+
		` ("folder_name", "created_at", "updated_at") VALUES (?, ?, ?)`, id.String(), now, now)
	if err != nil {
		return nil, conflict(op, err, fmt.Sprintf("folder %q already exists", name))
	}
	s.log.Info().Str("folder", name).Msg("folder created")
	return s.folder(ctx, name)
}

// ListFolders returns every folder with its image count and total size.
func (s *Store) ListFolders(ctx context.Context) ([]Folder, error) {
	folders := []Folder{}
	err := s.x.Select(ctx, &folders, folderSelect+` ORDER BY f."folder_name"`)
	if err != nil {
		return nil, errors.Wrap("images.ListFolders", err)
	}
	return folders, nil
}

// RenameFolder changes a folder's name. The default folder keeps its name.
func (s *Store) RenameFolder(ctx context.Context, oldName, newName string) (*Folder, error) {
	const op errors.Op = "images.RenameFolder"

	if oldName == s.opts.DefaultFolder {
		return nil, errors.E(op, errors.KindValidation, "the default folder cannot be renamed")
	}
	f, err := s.folder(ctx, oldName)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	id, err := database.ValidateIdentifier(newName, database.FolderIdent)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	_, err = s.x.Write(ctx, `UPDATE `+database.Quote(foldersTable)+
		` SET "folder_name" = ?, "updated_at" = ? WHERE "id" = ?`, id.String(), s.now().UTC(), f.ID)
	if err != nil {
		return nil, conflict(op, err, fmt.Sprintf("folder %q already exists", newName))
	}
	s.log.Info().Str("from", oldName).Str("to", newName).Msg("folder renamed")
	return s.folder(ctx, newName)
}

// DeleteFolder removes an empty folder. The default folder cannot be
// deleted.
func (s *Store) DeleteFolder(ctx context.Context, name string) error {
	const op errors.Op = "images.DeleteFolder"

	if name == s.opts.DefaultFolder {
		return errors.E(op, errors.KindValidation, "the default folder cannot be deleted")
	}
	f, err := s.folder(ctx, name)
	if err != nil {
		return errors.Wrap(op, err)
	}

	busy := fmt.Sprintf("folder %q contains images; delete or move them first", name)
	err = s.x.InTx(ctx, func(tx *database.Tx) error {
		count := database.Classify(`SELECT COUNT(*) FROM `+database.Quote(filesTable)+` WHERE "folder_id" = ?`, filesTable)
		rs, err := tx.Execute(ctx, count, database.Params{f.ID}, false)
		if err != nil {
			return err
		}
		if n := rs.Rows[0][0].Int; n > 0 {
			return errors.E(op, errors.KindConflict,
				fmt.Sprintf("folder %q contains %d image(s); delete or move them first", name, n))
		}
		_, err = tx.Write(ctx, `DELETE FROM `+database.Quote(foldersTable)+` WHERE "id" = ?`, f.ID)
		return err
	})
	if errors.IsKind(err, errors.KindConflict) {
		return err
	}
	if err != nil {
		return conflict(op, err, busy)
	}
	s.log.Info().Str("folder", name).Msg("folder deleted")
	return nil
}

// folder looks a folder up by name; empty means the default folder.
func (s *Store) folder(ctx context.Context, name string) (*Folder, error) {
	const op errors.Op = "images.folder"

	if name == "" {
		name = s.opts.DefaultFolder
	}
	id, err := database.ValidateIdentifier(name, database.FolderIdent)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	var found []Folder
	err = s.x.Select(ctx, &found, folderSelect+` WHERE f."folder_name" = ?`, id.String())
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if len(found) == 0 {
		return nil, errors.E(op, errors.KindNotFound, fmt.Sprintf("folder %q not found", name))
	}
	return &found[0], nil
}

func conflict(op errors.Op, err error, msg string) error {
	if errors.GetExecKind(err) == errors.ExecConstraint {
		return errors.E(op, errors.KindConflict, msg)
	}
	return errors.Wrap(op, err)
}
