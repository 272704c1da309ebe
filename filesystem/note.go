// Package filesystem mirrors a synced tree onto disk as markdown files with
// YAML front matter.
package filesystem

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FrontMatter is the YAML header of an exported note.
type FrontMatter struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

type Document struct {
	FrontMatter
	Content string
}

const delimiter = "---"

func ReadNote(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rest, ok := bytes.CutPrefix(data, []byte(delimiter+"\n"))
	if !ok {
		return nil, fmt.Errorf("%s: invalid frontmatter format", path)
	}
	header, body, ok := bytes.Cut(rest, []byte("\n"+delimiter+"\n"))
	if !ok {
		return nil, fmt.Errorf("%s: invalid frontmatter format", path)
	}

	doc := &Document{}
	if err := yaml.Unmarshal(header, &doc.FrontMatter); err != nil {
		return nil, fmt.Errorf("%s: failed to parse frontmatter: %w", path, err)
	}
	doc.Content = strings.TrimPrefix(string(body), "\n")
	return doc, nil
}

func WriteNote(path string, doc *Document) error {
	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc.FrontMatter); err != nil {
		return fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode frontmatter: %w", err)
	}

	buf.WriteString(delimiter + "\n\n")
	buf.WriteString(doc.Content)

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// indexNotes maps the front-matter id of every readable .md file under dir
// to its path. Files that do not parse are ignored.
func indexNotes(dir string) (map[string]string, error) {
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		doc, err := ReadNote(path)
		if err == nil && doc.ID != "" {
			out[doc.ID] = path
		}
		return nil
	})
	return out, err
}

var unsafe = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "")

// fileName turns a folder name into a single safe path element.
func fileName(name string) string {
	name = strings.TrimSpace(unsafe.Replace(name))
	switch name {
	case "":
		return "untitled"
	case ".", "..":
		return "_"
	}
	return name
}
