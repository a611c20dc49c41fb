package workspace

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// seedFiles lists the templates written into a fresh workspace, matching
// the files Context assembles.
var seedFiles = []string{
	"persona.md",
	"identity.md",
	"owner.md",
	"tools.md",
	"tips.md",
}

// Seed writes starter templates into the workspace directory. Existing
// files are never overwritten. Returns the list of files created.
func Seed(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var created []string
	for _, name := range seedFiles {
		ok, err := seedFile(dir, name)
		if err != nil {
			slog.Warn("workspace.seed_failed", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}
	return created, nil
}

// seedFile writes one template with O_EXCL so an existing file wins.
func seedFile(dir, name string) (bool, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return false, err
	}

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
