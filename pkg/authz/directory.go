package authz

import (
	"context"
	"fmt"

	"github.com/verdantlabs/agritrace/pkg/actors"
)

// DirectoryRoles answers role checks out of the actor directory, so a
// deployment needs only one collaborator for both enrichment and authz.
type DirectoryRoles struct {
	directory actors.Directory
}

// NewDirectoryRoles wraps an actor directory as a RoleChecker.
func NewDirectoryRoles(directory actors.Directory) *DirectoryRoles {
	return &DirectoryRoles{directory: directory}
}

// Role returns the caller's role, or "" when the directory does not know
// the caller.
func (r *DirectoryRoles) Role(ctx context.Context, callerID string) (string, error) {
	if callerID == "" {
		return "", nil
	}
	resolved, err := r.directory.Lookup(ctx, []string{callerID})
	if err != nil {
		return "", fmt.Errorf("role lookup for %s: %w", callerID, err)
	}
	if a, ok := resolved[callerID]; ok {
		return a.Role, nil
	}
	return "", nil
}
