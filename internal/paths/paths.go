// Package paths resolves XDG-style default locations for nlsql data.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nlsql/nlsql/internal/errors"
)

const appName = "nlsql"

type Paths struct {
	ConfigDir string
	DataDir   string
	CacheDir  string
}

// GetPaths returns all base paths respecting environment variables
func GetPaths() Paths {
	return Paths{
		ConfigDir: getDir("NLSQL_CONFIG_HOME", "XDG_CONFIG_HOME", ".config"),
		DataDir:   getDir("NLSQL_DATA_HOME", "XDG_DATA_HOME", ".local/share"),
		CacheDir:  getDir("NLSQL_CACHE_HOME", "XDG_CACHE_HOME", ".cache"),
	}
}

func getDir(appEnv, xdgEnv, defaultBase string) string {
	// 1. App-specific env
	if dir := os.Getenv(appEnv); dir != "" {
		return dir
	}

	// 2. XDG env
	if xdgBase := os.Getenv(xdgEnv); xdgBase != "" {
		return filepath.Join(xdgBase, appName)
	}

	// 3. Default under home
	home, _ := os.UserHomeDir()
	return filepath.Join(home, defaultBase, appName)
}

// GetDatabasePath returns the path to the data database
func GetDatabasePath() string {
	if path := os.Getenv("NLSQL_DB_PATH"); path != "" {
		return path
	}
	return filepath.Join(GetPaths().DataDir, "nlsql.db")
}

// GetHistoryIndexPath returns the path of the query history index.
// Default: adjacent to the database, e.g. /data/nlsql.history.bleve
func GetHistoryIndexPath() string {
	if path := os.Getenv("NLSQL_HISTORY_INDEX"); path != "" {
		return path
	}
	return siblingOfDatabase(".history.bleve")
}

// GetImagesPath returns the directory uploaded images are stored in.
func GetImagesPath() string {
	if path := os.Getenv("NLSQL_IMAGES_DIR"); path != "" {
		return path
	}
	return filepath.Join(GetPaths().DataDir, "images")
}

func siblingOfDatabase(suffix string) string {
	dbPath := GetDatabasePath()
	dir := filepath.Dir(dbPath)
	base := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
	return filepath.Join(dir, base+suffix)
}

// EnsureDirectories creates all necessary directories
func EnsureDirectories() error {
	p := GetPaths()
	dirs := []string{
		p.ConfigDir,
		p.DataDir,
		p.CacheDir,
		GetImagesPath(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.E(errors.Op("paths.EnsureDirectories"), errors.KindIO, err, "failed to create directory "+dir)
		}
	}
	return nil
}
