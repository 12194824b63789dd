package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"labdrop/internal/server/database"

	"github.com/google/uuid"
)

var gradeGroupPattern = regexp.MustCompile(`^grade(\d+)$`)

// ImportResult is the outcome of one legacy import run.
type ImportResult struct {
	Report     database.MigrationReport `json:"report"`
	ReportPath string                   `json:"report_path"`
}

// Importer merges a prior system's users.json and groups.json into the
// uploader collection.
type Importer struct {
	repo *database.Repository
	now  func() time.Time
}

// NewImporter creates a new legacy importer.
func NewImporter(repo *database.Repository) *Importer {
	return &Importer{repo: repo, now: time.Now}
}

// legacyUser is one entry of users.json.
type legacyUser struct {
	Name    string          `json:"name"`
	Grade   json.RawMessage `json:"grade"`
	Groups  []string        `json:"groups"`
	IsAdmin bool            `json:"is_admin"`
}

type legacyEntry struct {
	key string
	raw json.RawMessage
}

// Import runs one import. Inputs that cannot be read or are not shaped like
// users.json/groups.json fail with a ParseFailure before anything is
// written. Otherwise the uploaders, the group directory and the report are
// committed together, or a PersistFailure leaves all three untouched.
// Re-running with the same inputs changes nothing.
func (im *Importer) Import(ctx context.Context, usersPath, groupsPath string) (*ImportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	users, err := parseLegacyUsers(usersPath)
	if err != nil {
		return nil, err
	}
	groupsRaw, err := parseLegacyGroups(groupsPath)
	if err != nil {
		return nil, err
	}

	now := im.now().UTC()
	report := database.MigrationReport{
		ID:        uuid.NewString(),
		Timestamp: now,
		Source:    database.MigrationSource{UsersPath: usersPath, GroupsPath: groupsPath},
		Counts:    database.MigrationCounts{TotalSourceUsers: len(users)},
		Details: database.MigrationDetails{
			Imported:       []string{},
			Merged:         []string{},
			SkippedNoGrade: []string{},
			AmbiguousGrade: []string{},
			SkippedAdmins:  []string{},
		},
		Errors: []string{},
	}

	groupNames := make(map[string]string, len(groupsRaw))
	for _, id := range slices.Sorted(maps.Keys(groupsRaw)) {
		name, err := legacyGroupName(groupsRaw[id])
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("group %q: %v", id, err))
			continue
		}
		groupNames[id] = name
	}

	reportName := fmt.Sprintf("legacy-import-%s-%s.json", now.Format("20060102T150405Z"), report.ID[:8])
	var (
		reportPath    string
		previousGroup map[string]json.RawMessage
		wroteGroups   bool
		staged        bool
	)

	compensate := func() {
		if reportPath != "" {
			if err := im.repo.RemoveReport(reportName); err != nil {
				slog.Error("failed to remove report of aborted import", "report", reportName, "error", err)
			}
		}
		if wroteGroups {
			err := im.repo.UpdateGroups(func(doc *database.GroupsDoc) error {
				doc.Groups = previousGroup
				return nil
			})
			if err != nil {
				slog.Error("failed to restore group directory of aborted import", "error", err)
			}
		}
	}

	err = im.repo.UpdateUploaders(func(doc *database.UploadersDoc) error {
		touched := make(map[string]bool)

		for _, entry := range users {
			u, name, err := decodeLegacyUser(entry)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			if u.IsAdmin {
				report.Counts.SkippedAdmins++
				report.Details.SkippedAdmins = append(report.Details.SkippedAdmins, name)
				continue
			}

			grade, ambiguous := legacyGrade(u)
			if grade == nil {
				report.Counts.SkippedNoGrade++
				report.Details.SkippedNoGrade = append(report.Details.SkippedNoGrade, name)
				if ambiguous {
					report.Details.AmbiguousGrade = append(report.Details.AmbiguousGrade, name)
				}
				continue
			}

			groups := resolveLegacyGroups(u.Groups, groupNames)

			if existing := doc.ByName(name); existing != nil {
				if existing.Grade == nil {
					g := *grade
					existing.Grade = &g
					existing.UpdatedAt = now
				}
				current := database.NormalizeGroups(existing.ExtraGroups)
				added := slices.ContainsFunc(groups, func(g string) bool {
					return !slices.Contains(current, g)
				})
				union := database.NormalizeGroups(append(current, groups...))
				if !slices.Equal(union, existing.ExtraGroups) {
					existing.ExtraGroups = union
					existing.UpdatedAt = now
				}
				if !added {
					continue
				}
				report.Counts.MergedCollisionGroups++
				report.Details.Merged = append(report.Details.Merged, name)
				if !touched[existing.ID] {
					touched[existing.ID] = true
					report.Counts.ImportedUploaders++
				}
				continue
			}

			created := database.Uploader{
				ID:                uuid.NewString(),
				DisplayName:       name,
				NormalizedName:    database.NormalizeName(name),
				Grade:             grade,
				ExtraGroups:       groups,
				IsActiveForUpload: true,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			doc.Uploaders = append(doc.Uploaders, created)
			touched[created.ID] = true
			report.Counts.ImportedUploaders++
			report.Details.Imported = append(report.Details.Imported, name)
		}

		// Lock order: groups is only ever taken inside uploaders.
		err := im.repo.UpdateGroups(func(g *database.GroupsDoc) error {
			previousGroup = maps.Clone(g.Groups)
			g.Groups = groupsRaw
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to write group directory: %w", err)
		}
		wroteGroups = true

		path, err := im.repo.PutReport(reportName, &report)
		if err != nil {
			return fmt.Errorf("failed to write migration report: %w", err)
		}
		reportPath = path

		staged = true
		return nil
	})
	if err != nil {
		compensate()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		slog.Error("legacy import aborted", "staged", staged, "error", err)
		return nil, &ImportError{Kind: PersistFailure, Err: err}
	}

	slog.Info("legacy import complete",
		"report", reportPath,
		"imported", report.Counts.ImportedUploaders,
		"merged", report.Counts.MergedCollisionGroups,
		"skipped_no_grade", report.Counts.SkippedNoGrade,
		"skipped_admins", report.Counts.SkippedAdmins,
		"errors", len(report.Errors),
	)
	return &ImportResult{Report: report, ReportPath: reportPath}, nil
}

func readLegacyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, &ImportError{Kind: ParseFailure, Err: errors.New("path is required")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ImportError{Kind: ParseFailure, Path: path, Err: err}
	}
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, &ImportError{Kind: ParseFailure, Path: path, Err: errors.New("invalid JSON")}
	}
	return data, nil
}

// parseLegacyUsers accepts an object keyed by username or an array of user
// objects. Entry order is preserved.
func parseLegacyUsers(path string) ([]legacyEntry, error) {
	data, err := readLegacyFile(path)
	if err != nil {
		return nil, err
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, &ImportError{Kind: ParseFailure, Path: path, Err: err}
		}
		out := make([]legacyEntry, 0, len(items))
		for i, raw := range items {
			out = append(out, legacyEntry{key: "#" + strconv.Itoa(i), raw: raw})
		}
		return out, nil
	case '{':
		out, err := orderedMembers(data)
		if err != nil {
			return nil, &ImportError{Kind: ParseFailure, Path: path, Err: err}
		}
		return out, nil
	}
	return nil, &ImportError{Kind: ParseFailure, Path: path, Err: errors.New("expected a JSON object or array of users")}
}

// orderedMembers decodes a JSON object into its members in document order.
func orderedMembers(data []byte) ([]legacyEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var out []legacyEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		out = append(out, legacyEntry{key: key, raw: raw})
	}
	return out, nil
}

// parseLegacyGroups accepts {"id": "name" | {"name": ...}}, optionally
// wrapped as {"groups": {...}}.
func parseLegacyGroups(path string) (map[string]json.RawMessage, error) {
	data, err := readLegacyFile(path)
	if err != nil {
		return nil, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return nil, &ImportError{Kind: ParseFailure, Path: path, Err: errors.New("expected a JSON object of groups")}
	}

	if inner, ok := top["groups"]; ok && len(top) == 1 {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(inner, &wrapped); err == nil && wrapped != nil {
			return wrapped, nil
		}
	}
	return top, nil
}

func legacyGroupName(raw json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return strings.TrimSpace(name), nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Name) != "" {
		return strings.TrimSpace(obj.Name), nil
	}
	return "", errors.New("group must be a name or an object with a name")
}

func decodeLegacyUser(entry legacyEntry) (*legacyUser, string, error) {
	var u legacyUser
	if err := json.Unmarshal(entry.raw, &u); err != nil {
		return nil, "", fmt.Errorf("user %s: malformed entry: %v", entry.key, err)
	}

	name := strings.TrimSpace(u.Name)
	if name == "" && !strings.HasPrefix(entry.key, "#") {
		name = strings.TrimSpace(entry.key)
	}
	if database.NormalizeName(name) == "" {
		return nil, "", fmt.Errorf("user %s: missing name", entry.key)
	}
	return &u, name, nil
}

// legacyGrade returns the user's grade from the grade field or else from a
// single gradeN group. Several distinct grade groups are ambiguous.
func legacyGrade(u *legacyUser) (grade *int, ambiguous bool) {
	if g, ok := parseGradeValue(u.Grade); ok {
		return &g, false
	}

	var found []int
	for _, group := range u.Groups {
		if g, ok := gradeFromGroup(group); ok && !slices.Contains(found, g) {
			found = append(found, g)
		}
	}
	switch len(found) {
	case 0:
		return nil, false
	case 1:
		return &found[0], false
	}
	return nil, true
}

func parseGradeValue(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n != math.Trunc(n) || !validGrade(int(n)) {
			return 0, false
		}
		return int(n), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		g, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || !validGrade(g) {
			return 0, false
		}
		return g, true
	}
	return 0, false
}

func gradeFromGroup(group string) (int, bool) {
	m := gradeGroupPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(group)))
	if m == nil {
		return 0, false
	}
	g, err := strconv.Atoi(m[1])
	if err != nil || !validGrade(g) {
		return 0, false
	}
	return g, true
}

// resolveLegacyGroups maps group tokens through the group directory and
// drops grade and admin groups.
func resolveLegacyGroups(tokens []string, names map[string]string) []string {
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		name := token
		if mapped, ok := names[token]; ok && mapped != "" {
			name = mapped
		}
		if isReservedGroup(token) || isReservedGroup(name) {
			continue
		}
		out = append(out, name)
	}
	return database.NormalizeGroups(out)
}

func isReservedGroup(g string) bool {
	g = strings.ToLower(strings.TrimSpace(g))
	return g == "admin" || gradeGroupPattern.MatchString(g)
}
