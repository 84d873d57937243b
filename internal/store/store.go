// Package store persists run artifacts under a per-company directory:
// timestamped CSV tables for the spreadsheets operators review, and JSON
// or YAML documents for nested data such as ambiguous matches.
package store

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/fleethold/internal/matcher"
	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
)

// Store writes and finds artifacts below a root directory.
type Store struct {
	root  string
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for artifact timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a store rooted at root. A leading "~" is expanded to the
// user's home directory.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		root = constants.DefaultDataDir
	}
	expanded, err := ExpandHome(root)
	if err != nil {
		return nil, err
	}
	s := &Store{root: expanded, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &errors.ConfigError{Component: "store", Message: "cannot resolve home directory", Err: err}
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the artifact directory of a company.
func (s *Store) Dir(company string) string {
	return filepath.Join(s.root, companyDir(company))
}

func companyDir(company string) string {
	name := strings.TrimSpace(company)
	name = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
	if name == "" {
		name = "_"
	}
	return name
}

// filename returns "<name>_<timestamp>.<ext>".
func (s *Store) filename(name, ext string) string {
	return name + "_" + s.clock().Format(constants.TimeFormatFilename) + "." + ext
}

func (s *Store) write(company, name, ext string, data []byte) (string, error) {
	dir := s.Dir(company)
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return "", errors.WrapIO("create", dir, err)
	}
	path := filepath.Join(dir, s.filename(name, ext))
	if err := os.WriteFile(path, data, constants.FilePermissions); err != nil {
		return "", errors.WrapIO("write", path, err)
	}
	return path, nil
}

// CreateLog opens "<name>_<timestamp>.log" in the company directory for
// appending. The caller closes the file.
func (s *Store) CreateLog(company, name string) (*os.File, error) {
	dir := s.Dir(company)
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return nil, errors.WrapIO("create", dir, err)
	}
	path := filepath.Join(dir, s.filename(name, "log"))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, constants.FilePermissions)
	if err != nil {
		return nil, errors.WrapIO("open", path, err)
	}
	return f, nil
}

// WriteCSV writes a table with a header row and returns its path.
func (s *Store) WriteCSV(company, name string, header []string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", errors.WrapIO("write", name, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return "", errors.WrapIO("write", name, err)
	}
	return s.write(company, name, "csv", buf.Bytes())
}

// WriteJSON writes v as indented JSON and returns its path.
func (s *Store) WriteJSON(company, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.WrapParse("json", name, err)
	}
	return s.write(company, name, "json", append(data, '\n'))
}

// WriteYAML writes v as YAML and returns its path.
func (s *Store) WriteYAML(company, name string, v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", errors.WrapParse("yaml", name, err)
	}
	return s.write(company, name, "yaml", data)
}

// ReadCSV reads a table written by WriteCSV, returning the header and rows.
func ReadCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.WrapIO("open", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, errors.NewParseError("csv", path, err.Error(), err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

// Artifact is a file found in the store.
type Artifact struct {
	Company string    `json:"company" yaml:"company"`
	Path    string    `json:"path" yaml:"path"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
	Size    int64     `json:"size" yaml:"size"`
}

// List returns a company's artifacts whose file name matches the glob
// pattern, newest first. Equal modification times order by name, newest
// timestamp first.
func (s *Store) List(company, pattern string) ([]Artifact, error) {
	m, err := matcher.New(matcher.Glob, pattern)
	if err != nil {
		return nil, &errors.ValidationError{Field: "pattern", Value: pattern, Message: err.Error()}
	}

	dir := s.Dir(company)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapIO("read", dir, err)
	}

	var out []Artifact
	for _, e := range entries {
		if e.IsDir() || !m.Match(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			Company: company,
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// Latest returns the newest artifact of a company matching pattern.
func (s *Store) Latest(company, pattern string) (string, error) {
	list, err := s.List(company, pattern)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", errors.NewNotFoundError("artifact", filepath.Join(s.Dir(company), pattern))
	}
	return list[0].Path, nil
}

// Prune deletes artifacts last modified more than olderThan ago and
// returns their paths. Empty company directories are left in place.
func (s *Store) Prune(olderThan time.Duration) ([]string, error) {
	cutoff := s.clock().Add(-olderThan)
	var removed []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !isArtifact(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return errors.WrapIO("delete", path, err)
			}
			removed = append(removed, path)
		}
		return nil
	})
	if err != nil {
		return removed, errors.WrapIO("walk", s.root, err)
	}
	return removed, nil
}

var artifactPatterns = matcher.MustNew(matcher.Regex, `\.(csv|json|yaml|log)$`)

func isArtifact(name string) bool {
	return artifactPatterns.Match(name)
}
