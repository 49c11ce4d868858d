package resource

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/krill-network/krill/internal/domain"
)

// DirFetcher serves transfers out of a shared directory tree laid out
// as root/resources/<taskID>/<name> and root/packages/<hash>/. It
// stands in for a remote transfer backend in single-host deployments
// and in tests.
type DirFetcher struct {
	Root string
}

// FetchResources verifies every named resource exists under the task's
// resource directory.
func (f *DirFetcher) FetchResources(ctx context.Context, taskID string, resources []string, _ domain.ResourceOptions) error {
	for _, name := range resources {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(f.Root, "resources", taskID, filepath.Clean(name))
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownResource, name)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrUnknownResource, name)
		}
	}
	return nil
}

// FetchResultPackage copies the package directory for hash into
// outputDir and returns the copied file list.
func (f *DirFetcher) FetchResultPackage(ctx context.Context, hash, _ string, _ domain.ResourceOptions, outputDir string) (domain.TaskResult, error) {
	src := filepath.Join(f.Root, "packages", hash)
	entries, err := os.ReadDir(src)
	if err != nil {
		return domain.TaskResult{}, fmt.Errorf("%w: package %s", ErrUnknownResource, hash)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return domain.TaskResult{}, err
	}

	var files []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return domain.TaskResult{}, err
		}
		if entry.IsDir() {
			continue
		}
		dst := filepath.Join(outputDir, entry.Name())
		if err := copyFile(filepath.Join(src, entry.Name()), dst); err != nil {
			return domain.TaskResult{}, err
		}
		files = append(files, dst)
	}
	if len(files) == 0 {
		return domain.TaskResult{}, fmt.Errorf("%w: package %s is empty", ErrUnknownResource, hash)
	}
	return domain.TaskResult{Files: files}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
