// Package archive packages stored files into a zip stream for bulk download.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Entry is one file to place in the archive.
type Entry struct {
	// Path is the blob on disk.
	Path string
	// Name is the filename shown inside the archive.
	Name string
}

// Write streams a zip of entries to w. Entry names are made unique by
// appending " (2)", " (3)" ... before the extension.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)

	names := newNamer()
	for _, e := range entries {
		if err := addFileToZip(zw, e.Path, names.unique(e.Name)); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to close zip writer: %w", err)
	}
	return nil
}

func addFileToZip(zw *zip.Writer, srcPath, archivePath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}

	return nil
}

type namer struct {
	seen map[string]bool
}

func newNamer() *namer {
	return &namer{seen: make(map[string]bool)}
}

// unique flattens name to a single path element and disambiguates repeats
// case-insensitively, since most extractors land on case-insensitive disks.
func (n *namer) unique(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		name = "file"
	}

	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; n.seen[strings.ToLower(candidate)]; i++ {
		candidate = stem + " (" + strconv.Itoa(i) + ")" + ext
	}
	n.seen[strings.ToLower(candidate)] = true
	return candidate
}
