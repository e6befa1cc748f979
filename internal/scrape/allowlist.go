package scrape

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AllowList reads the enabled-account set from an externally editable JSON
// document. It is re-read on every call, never cached: operators add newly
// discovered tenant accounts to the file between runs.
type AllowList struct {
	path string
}

// NewAllowList points at the enabled-accounts document.
func NewAllowList(path string) *AllowList {
	return &AllowList{path: path}
}

type allowListDoc struct {
	Enabled []string `json:"enabled"`
}

// Enabled returns the configured account names in file order.
func (a *AllowList) Enabled() ([]string, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read enabled-accounts file %s: %w", a.path, err)
	}
	var doc allowListDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse enabled-accounts file %s: %w", a.path, err)
	}
	return doc.Enabled, nil
}

// EnabledSet returns the configured account names as a membership set.
func (a *AllowList) EnabledSet() (map[string]bool, error) {
	names, err := a.Enabled()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}
