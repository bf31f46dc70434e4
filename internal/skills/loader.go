// Package skills loads the optional skill files a workspace exposes to
// the agent loop: short markdown documents under skills/*.md. The agent
// loop puts every loaded skill's name and full body into the system prompt
// on each turn (SPEC_FULL.md §4.5).
package skills

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File is one skill document.
type File struct {
	Name string // file name without the .md extension
	Body string
}

// Loader reads skill files from a workspace's skills/ directory.
type Loader struct {
	dir string
}

// NewLoader binds a Loader to workspaceDir/skills.
func NewLoader(workspaceDir string) *Loader {
	return &Loader{dir: filepath.Join(workspaceDir, "skills")}
}

// Load reads every skills/*.md file and returns them sorted by name. A
// missing skills directory is not an error — it simply yields no skills.
func (l *Loader) Load() ([]File, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			continue
		}
		files = append(files, File{
			Name: strings.TrimSuffix(e.Name(), ".md"),
			Body: string(data),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Names returns just the names of the available skills, for the context
// manager's skills summary section.
func Names(files []File) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}

// BodiesByName indexes skill bodies by name for BuildOpts.Skills.
func BodiesByName(files []File) map[string]string {
	out := make(map[string]string, len(files))
	for _, f := range files {
		out[f.Name] = f.Body
	}
	return out
}
