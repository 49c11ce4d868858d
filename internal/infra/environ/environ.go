// Package environ supplies the execution environment descriptor
// embedded in every work grant: the program source and the container
// images allowed to run it.
package environ

import (
	"fmt"
	"os"

	"github.com/krill-network/krill/internal/domain"
)

// Static is an environment with a fixed identity: inline source or a
// source file, and a fixed image list.
type Static struct {
	EnvID      string
	Source     string // inline program source, preferred when set
	SourcePath string // fallback, read per call so edits take effect
	Images     []domain.DockerImage
}

// ID returns the environment identifier advertised in task headers.
func (s *Static) ID() string { return s.EnvID }

// MainProgramSource returns the program source shipped to peers.
func (s *Static) MainProgramSource() (string, error) {
	if s.Source != "" {
		return s.Source, nil
	}
	if s.SourcePath == "" {
		return "", fmt.Errorf("environment %s has no program source", s.EnvID)
	}
	data, err := os.ReadFile(s.SourcePath)
	if err != nil {
		return "", fmt.Errorf("read program source: %w", err)
	}
	return string(data), nil
}

// DockerImages lists the container images the payload may run in.
func (s *Static) DockerImages() []domain.DockerImage {
	out := make([]domain.DockerImage, len(s.Images))
	copy(out, s.Images)
	return out
}

var _ domain.Environment = (*Static)(nil)

// ForTask builds the environment for one submitted task: the stock
// image set with the submitter's program source.
func ForTask(srcCode string) *Static {
	return &Static{
		EnvID:  "krill/compute:1",
		Source: srcCode,
		Images: []domain.DockerImage{{Repository: "krillnetwork/compute", Tag: "1"}},
	}
}
