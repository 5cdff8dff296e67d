package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// workbookExts are the extensions excelize can open as ledger workbooks.
var workbookExts = map[string]bool{".xlsx": true, ".xlsm": true}

// ValidateWorkbookPath checks that path names a readable workbook file.
// Excel lock files ("~$ledger.xlsx") are rejected.
func ValidateWorkbookPath(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("workbook %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat workbook %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a workbook", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !workbookExts[ext] {
		return fmt.Errorf("%s is not an Excel workbook (extension: %q)", path, ext)
	}
	if strings.HasPrefix(filepath.Base(path), "~$") {
		return fmt.Errorf("%s is a temporary Excel lock file", path)
	}
	return nil
}
