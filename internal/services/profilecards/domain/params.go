package domain

import (
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
)

// Parameter keys exchanged across the suspension boundary.
const (
	ParamID           = "id"
	ParamLanguage     = "language"
	ParamVersion      = "version"
	ParamDatabase     = "database"
	ParamPageEditor   = "isPageEditor"
	ParamSearchString = "searchString"
)

// Params is the validated form of the flat parameter set.
type Params struct {
	ItemID       string
	Language     string
	Version      int
	Database     string
	PageEditor   bool
	SearchString string
}

// Encode returns the flat string map carried across the suspension.
func (p Params) Encode() map[string]string {
	pageEditor := "0"
	if p.PageEditor {
		pageEditor = "1"
	}
	return map[string]string{
		ParamID:           p.ItemID,
		ParamLanguage:     p.Language,
		ParamVersion:      strconv.Itoa(p.Version),
		ParamDatabase:     p.Database,
		ParamPageEditor:   pageEditor,
		ParamSearchString: p.SearchString,
	}
}

// DecodeParams validates a flat parameter set.
func DecodeParams(values map[string]string) (Params, error) {
	get := func(key string) string { return strings.TrimSpace(values[key]) }

	p := Params{
		ItemID:       get(ParamID),
		Language:     get(ParamLanguage),
		Database:     get(ParamDatabase),
		PageEditor:   get(ParamPageEditor) == "1",
		SearchString: values[ParamSearchString],
	}
	if p.ItemID == "" {
		return Params{}, invalidParam(ParamID)
	}
	if p.Database == "" {
		return Params{}, invalidParam(ParamDatabase)
	}
	if raw := get(ParamVersion); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version < 1 {
			return Params{}, invalidParam(ParamVersion)
		}
		p.Version = version
	}
	return p, nil
}

// CleanSearchString strips double quotes from a search string taken from a
// URL, so the persisted parameter never breaks out of its quoting.
func CleanSearchString(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, `"`, ""))
}

func invalidParam(field string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidParameters, "invalid parameter "+field, map[string]string{"field": field})
}
