// Package workspace is the on-disk file store for session workspaces. Every
// workspace lives in a directory named by the session id, never by the
// username, so that a superseded session's directory can be deleted without
// touching a newer one that belongs to the same user.
package workspace

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"workbench/internal/quota"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrNotFound    = errors.New("file or folder not found")
	ErrExists      = errors.New("file or folder already exists")
)

type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *Store) EnsureDir(sessionID string) (string, error) {
	dir := s.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session dir: %w", err)
	}
	return dir, nil
}

// RemoveSession deletes a session directory recursively. Safe to call for a
// directory that never existed.
func (s *Store) RemoveSession(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return os.RemoveAll(s.SessionDir(sessionID))
}

func (s *Store) Usage(sessionID string) int64 {
	return quota.DirSize(s.SessionDir(sessionID))
}

// resolve joins rel under the session dir and rejects any path that escapes
// it. The security boundary of every file operation.
func (s *Store) resolve(sessionID, rel string) (string, error) {
	base := s.SessionDir(sessionID)
	cleaned := filepath.Join(base, strings.TrimLeft(filepath.ToSlash(rel), "/"))
	relToBase, err := filepath.Rel(base, cleaned)
	if err != nil || relToBase == ".." || strings.HasPrefix(relToBase, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	return cleaned, nil
}

type Node struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Path     string `json:"path"`
	Size     int64  `json:"size,omitempty"`
	Children []Node `json:"children,omitempty"`
}

// Tree lists the workspace recursively, creating the directory on first use.
func (s *Store) Tree(sessionID string) ([]Node, error) {
	dir, err := s.EnsureDir(sessionID)
	if err != nil {
		return nil, err
	}
	return buildTree(dir, "")
}

func buildTree(dir, relPrefix string) ([]Node, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	nodes := make([]Node, 0, len(entries))
	for _, entry := range entries {
		relPath := entry.Name()
		if relPrefix != "" {
			relPath = relPrefix + "/" + entry.Name()
		}
		if entry.IsDir() {
			children, err := buildTree(filepath.Join(dir, entry.Name()), relPath)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, Node{
				Name:     entry.Name(),
				Type:     "folder",
				Path:     relPath,
				Children: children,
			})
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		nodes = append(nodes, Node{
			Name: entry.Name(),
			Type: "file",
			Path: relPath,
			Size: info.Size(),
		})
	}
	return nodes, nil
}

// normalizeNewlines collapses CRLF and bare CR so editors round-trip content
// without doubling line endings.
func normalizeNewlines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}

func (s *Store) ReadFile(sessionID, rel string) (string, error) {
	path, err := s.resolve(sessionID, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return normalizeNewlines(string(data)), nil
}

// SaveFile persists normalized content under the quota: only a growing write
// triggers the workspace-wide size check.
func (s *Store) SaveFile(sessionID, rel, content string, quotaBytes int64) error {
	dir, err := s.EnsureDir(sessionID)
	if err != nil {
		return err
	}
	path, err := s.resolve(sessionID, rel)
	if err != nil {
		return err
	}

	normalized := normalizeNewlines(content)
	existing := quota.FileSize(path)
	if err := quota.Check(dir, existing, int64(len(normalized)), quotaBytes); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(normalized), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (s *Store) CreateEntry(sessionID, rel string, isDir bool) error {
	if _, err := s.EnsureDir(sessionID); err != nil {
		return err
	}
	path, err := s.resolve(sessionID, rel)
	if err != nil {
		return err
	}
	if isDir {
		return os.MkdirAll(path, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}
	return os.WriteFile(path, nil, 0644)
}

func (s *Store) Rename(sessionID, oldRel, newRel string) error {
	oldPath, err := s.resolve(sessionID, oldRel)
	if err != nil {
		return err
	}
	newPath, err := s.resolve(sessionID, newRel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(oldPath); err != nil {
		return ErrNotFound
	}
	if _, err := os.Stat(newPath); err == nil {
		return ErrExists
	}
	return os.Rename(oldPath, newPath)
}

func (s *Store) Delete(sessionID, rel string) (bool, error) {
	path, err := s.resolve(sessionID, rel)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, ErrNotFound
	}
	if info.IsDir() {
		return true, os.RemoveAll(path)
	}
	return false, os.Remove(path)
}

type Upload struct {
	Name    string
	Content []byte
}

// SaveUploads writes a batch of files under targetRel. The quota check runs
// once against the summed incoming size before any byte lands, so the batch
// either fully passes or fully fails quota-wise.
func (s *Store) SaveUploads(sessionID, targetRel string, uploads []Upload, quotaBytes int64) ([]string, error) {
	dir, err := s.EnsureDir(sessionID)
	if err != nil {
		return nil, err
	}
	targetDir, err := s.resolve(sessionID, targetRel)
	if err != nil {
		return nil, err
	}

	var incoming int64
	for _, u := range uploads {
		incoming += int64(len(u.Content))
	}
	if err := quota.CheckIncoming(dir, incoming, quotaBytes); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create target dir: %w", err)
	}

	saved := make([]string, 0, len(uploads))
	for _, u := range uploads {
		if u.Name == "" {
			continue
		}
		path, err := s.resolve(sessionID, filepath.Join(targetRel, u.Name))
		if err != nil {
			return saved, err
		}
		if err := os.WriteFile(path, u.Content, 0644); err != nil {
			return saved, fmt.Errorf("failed to write %s: %w", u.Name, err)
		}
		saved = append(saved, u.Name)
	}
	return saved, nil
}

// FilePath resolves rel to an existing regular file for download.
func (s *Store) FilePath(sessionID, rel string) (string, error) {
	path, err := s.resolve(sessionID, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// WriteZip streams a deflate zip of the folder at rel ("" means the whole
// workspace) into w and returns the folder's base name for the attachment.
func (s *Store) WriteZip(sessionID, rel string, w io.Writer) (string, error) {
	folder, err := s.resolve(sessionID, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return "", ErrNotFound
	}

	zw := zip.NewWriter(w)
	walkErr := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		relPath, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}
		f, err := zw.Create(filepath.ToSlash(relPath))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(f, src)
		return err
	})
	if walkErr != nil {
		zw.Close()
		return "", fmt.Errorf("failed to zip folder: %w", walkErr)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize zip: %w", err)
	}

	base := filepath.Base(folder)
	if trimmed := strings.Trim(strings.TrimLeft(filepath.ToSlash(rel), "/"), "/."); trimmed == "" {
		base = ""
	}
	return base, nil
}
