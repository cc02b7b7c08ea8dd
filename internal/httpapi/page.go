package httpapi

import (
	_ "embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const dashboardPageName = "index.html"

//go:embed assets/index.html
var defaultDashboardPage []byte

//go:embed assets/dashboard.js
var dashboardJavaScriptSource []byte

// PageSource returns the dashboard page markup.
type PageSource func() ([]byte, error)

// DefaultPageSource serves the embedded sample dashboard.
func DefaultPageSource() PageSource {
	return func() ([]byte, error) {
		return defaultDashboardPage, nil
	}
}

// DirectoryPageSource reads index.html from publicDir on every bootstrap so edits apply to new sessions.
// The embedded page is used when the directory has none.
func DirectoryPageSource(publicDir string) PageSource {
	if publicDir == "" {
		return DefaultPageSource()
	}
	pagePath := filepath.Join(publicDir, dashboardPageName)
	return func() ([]byte, error) {
		contents, readErr := os.ReadFile(pagePath)
		if errors.Is(readErr, fs.ErrNotExist) {
			return defaultDashboardPage, nil
		}
		return contents, readErr
	}
}
