package converter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ArtifactPrefix starts the name of every temp artifact
const ArtifactPrefix = "temp_conversion"

// Artifact is an intermediate file owned by a single conversion
type Artifact struct {
	Path     string
	Kind     ArtifactKind
	released bool
}

// ArtifactManager creates temp artifacts and guarantees their removal
type ArtifactManager struct {
	dir       string
	artifacts []*Artifact
	logger    log.Interface

	// remove is swapped in tests to simulate delete failures
	remove func(string) error
}

// NewArtifactManager creates a manager placing artifacts in dir
func NewArtifactManager(dir string, logger log.Interface) *ArtifactManager {
	if dir == "" {
		dir = "."
	}
	if logger == nil {
		logger = log.Log
	}
	return &ArtifactManager{
		dir:    dir,
		logger: logger,
		remove: os.Remove,
	}
}

// Create allocates a unique artifact path and reserves it on disk
func (m *ArtifactManager) Create(kind ArtifactKind) (*Artifact, error) {
	name := fmt.Sprintf("%s-%s%s", ArtifactPrefix, uuid.NewString(), kind.Extension())
	path := filepath.Join(m.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, ArtifactError(err, "create temp artifact")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, ArtifactError(err, "close temp artifact")
	}

	a := &Artifact{Path: path, Kind: kind}
	m.artifacts = append(m.artifacts, a)
	m.logger.WithFields(log.Fields{"artifact": path, "kind": kind}).Debug("Created temp artifact")
	return a, nil
}

// Release deletes the artifact's file. Releasing twice is a no-op.
func (m *ArtifactManager) Release(a *Artifact) error {
	if a == nil || a.released {
		return nil
	}
	if err := m.remove(a.Path); err != nil && !os.IsNotExist(err) {
		return ArtifactError(err, fmt.Sprintf("remove %s", a.Path))
	}
	a.released = true
	m.logger.WithField("artifact", a.Path).Debug("Removed temp artifact")
	return nil
}

// ReleaseAll releases every artifact in reverse creation order and returns
// the combined removal failures
func (m *ArtifactManager) ReleaseAll() error {
	var combined error
	for i := len(m.artifacts) - 1; i >= 0; i-- {
		if err := m.Release(m.artifacts[i]); err != nil {
			m.logger.WithError(err).Warn("Failed to remove temp artifact")
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}

// Paths returns the paths of all artifacts created so far, in creation order
func (m *ArtifactManager) Paths() []string {
	paths := make([]string, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		paths = append(paths, a.Path)
	}
	return paths
}

// Pending returns the number of artifacts not yet released
func (m *ArtifactManager) Pending() int {
	n := 0
	for _, a := range m.artifacts {
		if !a.released {
			n++
		}
	}
	return n
}
