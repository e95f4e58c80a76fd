package serverdb

import "errors"

// Sentinel errors returned by template, share and version operations.
// Callers match them with errors.Is; some are wrapped with detail.
var (
	// ErrTemplateNotFound means the template does not exist or the caller
	// has no role on it. The two cases are deliberately indistinguishable.
	ErrTemplateNotFound = errors.New("template not found")
	ErrForbidden        = errors.New("insufficient permissions")
	ErrUserNotFound     = errors.New("user not found")
	ErrShareNotFound    = errors.New("share not found")
	ErrShareWithOwner   = errors.New("cannot share a template with its owner")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidName      = errors.New("template name is required")
	ErrVersionNotFound  = errors.New("version not found")
	ErrVersionConflict  = errors.New("template has newer versions")
	ErrSignupDisabled   = errors.New("signups are disabled")
)
