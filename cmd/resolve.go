package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marcus/tpled/internal/tplclient"
)

// templateLister is the part of the client template lookup needs.
type templateLister interface {
	ListTemplates() (*tplclient.TemplateList, error)
}

// resolveTemplateID accepts a full template ID, a unique ID prefix as
// printed by list, or an exact template name.
func resolveTemplateID(c templateLister, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: template is required", errInvalidInput)
	}
	// Server IDs are canonical lowercase with dashes.
	if u, err := uuid.Parse(ref); err == nil {
		return u.String(), nil
	}

	list, err := c.ListTemplates()
	if err != nil {
		return "", err
	}
	all := append(append([]tplclient.Template{}, list.Owned...), list.Shared...)

	var byPrefix, byName []string
	lower := strings.ToLower(ref)
	for _, t := range all {
		if strings.HasPrefix(t.ID, lower) {
			byPrefix = append(byPrefix, t.ID)
		}
		if t.Name == ref {
			byName = append(byName, t.ID)
		}
	}

	switch {
	case len(byPrefix) == 1:
		return byPrefix[0], nil
	case len(byPrefix) > 1:
		return "", fmt.Errorf("%w: %q matches %d templates; use more of the ID", errInvalidInput, ref, len(byPrefix))
	case len(byName) == 1:
		return byName[0], nil
	case len(byName) > 1:
		return "", fmt.Errorf("%w: %d templates are named %q; use the ID", errInvalidInput, len(byName), ref)
	}
	return "", fmt.Errorf("%w: template %q", tplclient.ErrNotFound, ref)
}
