package docker

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// DirHash returns the md5 hex digest of a build context directory. Files
// are folded in sorted relative-path order, path first then content, so
// identical trees always hash the same and any rename or edit changes the
// digest.
func DirHash(root string) (string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk build context: %w", err)
	}
	sort.Strings(files)

	h := md5.New()
	for _, rel := range files {
		io.WriteString(h, rel)
		f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("failed to read build context file: %w", err)
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to hash build context file: %w", err)
		}
		f.Close()
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ImageTag builds the content-addressed tag for a subtask kind
func ImageTag(namespace, subtaskKind, dirHash string) string {
	return fmt.Sprintf("%s/%s:%s", namespace, subtaskKind, dirHash)
}
