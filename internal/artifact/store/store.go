// Package store persists accepted artifact trees. Every tree is saved whole
// under a run id and read back whole.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"modsmith/internal/artifact"
)

var (
	ErrNotFound  = errors.New("artifact not found")
	ErrBadRunID  = errors.New("invalid run id")
	ErrEmptyTree = errors.New("artifact tree is empty")
)

// Store saves and loads artifact trees keyed by run id.
type Store interface {
	// Save stores tree under runID, replacing any tree saved there before.
	Save(ctx context.Context, runID string, tree artifact.Tree) error
	// Load returns the tree saved under runID, or ErrNotFound.
	Load(ctx context.Context, runID string) (artifact.Tree, error)
	// Link returns a URL for one file of a saved tree, or "" when the
	// backend has no way to hand one out.
	Link(ctx context.Context, runID, path string) (string, error)
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}

// runKey normalizes a run id. Run ids are UUIDs.
func runKey(runID string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(runID))
	if err != nil {
		return "", fmt.Errorf("%w %q", ErrBadRunID, runID)
	}
	return id.String(), nil
}

func saveKey(runID string, tree artifact.Tree) (string, error) {
	id, err := runKey(runID)
	if err != nil {
		return "", err
	}
	if tree.Empty() {
		return "", fmt.Errorf("run %s: %w", id, ErrEmptyTree)
	}
	return id, nil
}

func fileKey(runID, path string) (string, string, error) {
	id, err := runKey(runID)
	if err != nil {
		return "", "", err
	}
	clean, err := artifact.CleanPath(path)
	if err != nil {
		return "", "", err
	}
	return id, clean, nil
}
