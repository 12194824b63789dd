package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"labdrop/internal/server/database"
)

// EffectiveFilename is the name a file is shown and downloaded under: the
// description plus the original extension, unless the description already
// ends with it. A blank description falls back to the original filename.
func EffectiveFilename(f *database.FileRecord) string {
	original := sanitizeFilename(f.OriginalFilename)
	description := strings.TrimSpace(f.Description)
	if description == "" {
		return original
	}

	ext := filepath.Ext(original)
	if ext == "" || strings.HasSuffix(strings.ToLower(description), strings.ToLower(ext)) {
		return description
	}
	return description + ext
}

// copyFilenameToken is the effective filename without the original file's
// extension. Dots inside a description ("Bracket v1.2") are kept.
func copyFilenameToken(f *database.FileRecord) string {
	name := EffectiveFilename(f)
	ext := filepath.Ext(sanitizeFilename(f.OriginalFilename))
	if ext != "" && strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		return name[:len(name)-len(ext)]
	}
	return name
}

// copyVersionToken renders a version as "V2" whether it was stored as "2",
// "v2" or "V2".
func copyVersionToken(f *database.FileRecord) string {
	v := strings.TrimSpace(f.Version)
	v = strings.TrimLeft(v, "vV")
	return "V" + v
}

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

const maxFilenameBytes = 255

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))

	if len(name) > maxFilenameBytes {
		ext := filepath.Ext(name)
		// Overlong extensions are dropped; the cut name then fails the
		// extension allowlist.
		if len(ext) > maxFilenameBytes/2 {
			ext = ""
		}
		name = truncateUTF8(strings.TrimSuffix(name, ext), maxFilenameBytes-len(ext)) + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}

	return name
}
