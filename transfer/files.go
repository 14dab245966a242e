package transfer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
)

// Path returns <root>/<feed>/<name>. Names holding a path separator are
// refused.
func Path(root string, feed uint16, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`+"\x00") {
		return "", fmt.Errorf("%q: %w", name, ErrBadFileName)
	}

	return filepath.Join(FeedDir(root, feed), name), nil
}

func FeedDir(root string, feed uint16) string {
	return filepath.Join(root, strconv.Itoa(int(feed)))
}

// Exists returns true if the feed directory holds a regular file name.
func Exists(root string, feed uint16, name string) bool {
	path, err := Path(root, feed, name)
	if err != nil {
		return false
	}

	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ReadFile reads name from the directory of feed.
func ReadFile(root string, feed uint16, name string) ([]byte, error) {
	path, err := Path(root, feed, name)
	if err != nil {
		return nil, err
	}

	return os.ReadFile(path)
}

// WriteFile writes data to the directory of feed through a temporary file
// renamed into place, readers never see a partial file.
func WriteFile(root string, feed uint16, name string, data []byte) (string, error) {
	path, err := Path(root, feed, name)
	if err != nil {
		return "", err
	}

	return path, WriteAtomic(path, data)
}

// WriteAtomic writes data to path through a synced temporary file in the
// same directory, creating the directory when missing.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return atomic.WriteFile(path, bytes.NewReader(data))
}

const stagingDir = ".staging"

// Stage writes the upload of id under the staging directory of root. The
// file is moved to its feed with Place.
func Stage(root string, id uint16, name string, data []byte) (string, error) {
	if _, err := Path(root, 0, name); err != nil {
		return "", err
	}

	path := filepath.Join(root, stagingDir, strconv.Itoa(int(id))+"-"+name)
	return path, WriteAtomic(path, data)
}

// Place moves a staged file to <root>/<feed>/<name>.
func Place(staged, root string, feed uint16, name string) (string, error) {
	path, err := Path(root, feed, name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(FeedDir(root, feed), 0o755); err != nil {
		return "", err
	}

	return path, atomic.ReplaceFile(staged, path)
}
