package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArgError reports a path argument that cannot be pushed.
type ArgError struct {
	Arg   string
	Cause string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// LocalFile is one file selected for a batch.
type LocalFile struct {
	Path string
	Name string
}

// CollectFiles expands args into files. Directories are walked recursively
// in name order; hidden entries inside them are skipped. When exts is not
// empty only files with one of those extensions are kept from directories,
// while files named explicitly are always kept.
func CollectFiles(args []string, exts []string) ([]LocalFile, error) {
	if len(args) == 0 {
		return nil, &ArgError{Arg: "<files>", Cause: "no files provided"}
	}

	var out []LocalFile
	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ArgError{Arg: raw, Cause: "not found or not accessible"}
		}

		if !info.IsDir() {
			out = append(out, LocalFile{Path: p, Name: filepath.Base(p)})
			continue
		}

		files, err := walkDir(p, exts)
		if err != nil {
			return nil, &ArgError{Arg: raw, Cause: err.Error()}
		}
		out = append(out, files...)
	}

	if len(out) == 0 {
		return nil, &ArgError{Arg: strings.Join(args, " "), Cause: "no matching files"}
	}
	return out, nil
}

func walkDir(dirPath string, exts []string) ([]LocalFile, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	var out []LocalFile
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		childPath := filepath.Join(dirPath, entry.Name())

		if entry.IsDir() {
			children, err := walkDir(childPath, exts)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
			continue
		}
		if !entry.Type().IsRegular() || !matchExt(entry.Name(), exts) {
			continue
		}
		out = append(out, LocalFile{Path: childPath, Name: entry.Name()})
	}
	return out, nil
}

func matchExt(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range exts {
		want = strings.ToLower(strings.TrimSpace(want))
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if ext == want {
			return true
		}
	}
	return false
}
