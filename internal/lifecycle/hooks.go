// Package lifecycle implements the service lifecycle hooks: startup,
// shutdown, and the build-time deployment hook. Hooks record observable
// marker files under the scratch directory named by the environment when it
// is set and exists; otherwise they silently skip the markers.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"modelgate/internal/shared"
	"modelgate/internal/state"
)

const (
	// StateKeyData is populated into the shared bag at startup.
	StateKeyData = "data"
	// StateKeyMarkerFile records the startup marker path for shutdown.
	StateKeyMarkerFile = "text_file"
)

// scratchDir resolves the marker directory, empty when markers should skip.
func scratchDir() string {
	dir := shared.GetEnv(shared.ScratchDirEnv, "")
	if dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); err != nil {
		return ""
	}
	return dir
}

// Startup populates the shared state and drops a data marker. It runs exactly
// once before any request is dispatched; an error here is fatal to service
// start.
func Startup(_ context.Context, bag *state.Bag) error {
	bag.Set(StateKeyData, "hello")

	dir := scratchDir()
	if dir == "" {
		return nil
	}
	marker := filepath.Join(dir, fmt.Sprintf("data-%s.txt", uuid.NewString()))
	f, err := os.Create(marker)
	if err != nil {
		return fmt.Errorf("failed creating startup marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	bag.Set(StateKeyMarkerFile, marker)
	return nil
}

// Shutdown appends a closing record to the startup marker, if one was made.
// It runs exactly once after the last in-flight request completes.
func Shutdown(_ context.Context, bag *state.Bag) error {
	marker := bag.GetString(StateKeyMarkerFile)
	if marker == "" {
		return nil
	}
	f, err := os.OpenFile(marker, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed opening startup marker: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString("closed\n"); err != nil {
		return err
	}
	return nil
}

// RunDeployment is the artifact-build-time hook. It has no request context,
// only the environment.
func RunDeployment(log *zap.SugaredLogger) error {
	dir := scratchDir()
	if dir == "" {
		log.Debug("deployment hook: no scratch directory, skipping marker")
		return nil
	}
	marker := filepath.Join(dir, fmt.Sprintf("deployment-%s.txt", uuid.NewString()))
	f, err := os.Create(marker)
	if err != nil {
		return fmt.Errorf("failed creating deployment marker: %w", err)
	}
	return f.Close()
}
