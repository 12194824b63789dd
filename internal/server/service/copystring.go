package service

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"labdrop/internal/server/database"
)

// copyDateLayout is dd-mm-yyyy.
const copyDateLayout = "02-01-2006"

// FormatCopyString renders the reference line admins paste into their
// records:
//
//	fn1, fn2 [V1, V2] {Admin - Uploader1, Uploader2} (dd-mm-yyyy)
//
// Filenames and versions follow the order of ids. Uploaders are listed once
// each, in order of first appearance. Any id that is unknown or deleted
// fails the whole call.
func FormatCopyString(doc *database.UploadsDoc, ids []string, adminName string, at time.Time) (string, error) {
	if len(ids) == 0 {
		return "", invalid("file_ids", "no files selected")
	}

	filenames := make([]string, 0, len(ids))
	versions := make([]string, 0, len(ids))
	var uploaders []string

	for _, id := range ids {
		f := doc.File(id)
		if f == nil || f.IsDeleted {
			return "", &NotFoundError{Kind: "file", ID: id}
		}
		filenames = append(filenames, copyFilenameToken(f))
		versions = append(versions, copyVersionToken(f))

		if b := doc.Batch(f.BatchID); b != nil && b.UploaderName != "" && !slices.Contains(uploaders, b.UploaderName) {
			uploaders = append(uploaders, b.UploaderName)
		}
	}

	return fmt.Sprintf("%s [%s] {%s - %s} (%s)",
		strings.Join(filenames, ", "),
		strings.Join(versions, ", "),
		adminName,
		strings.Join(uploaders, ", "),
		at.Format(copyDateLayout),
	), nil
}

// CopyString formats the copy string for ids as of now.
func (s *UploadService) CopyString(ids []string, adminName string) (string, error) {
	doc, err := s.repo.Uploads()
	if err != nil {
		return "", storageFailure("read uploads", err)
	}
	return FormatCopyString(doc, ids, adminName, s.now())
}
