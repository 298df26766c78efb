package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"modelgate/internal/shared"
	"modelgate/internal/state"
)

func markerFiles(t *testing.T, dir, prefix string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

func TestStartupAndShutdownMarkers(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(shared.ScratchDirEnv, dir)

	bag := state.NewBag()
	if err := Startup(context.Background(), bag); err != nil {
		t.Fatalf("startup failed: %v", err)
	}
	if bag.GetString(StateKeyData) != "hello" {
		t.Fatal("startup must populate shared state")
	}
	markers := markerFiles(t, dir, "data-")
	if len(markers) != 1 {
		t.Fatalf("expected 1 data marker, got %d", len(markers))
	}

	if err := Shutdown(context.Background(), bag); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	content, err := os.ReadFile(markers[0])
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(content) != "closed\n" {
		t.Fatalf("expected closed record, got %q", content)
	}
}

func TestHooksSkipWithoutScratchDir(t *testing.T) {
	t.Setenv(shared.ScratchDirEnv, "")

	bag := state.NewBag()
	if err := Startup(context.Background(), bag); err != nil {
		t.Fatalf("startup must skip markers cleanly: %v", err)
	}
	if bag.Has(StateKeyMarkerFile) {
		t.Fatal("no marker path must be recorded without a scratch dir")
	}
	if err := Shutdown(context.Background(), bag); err != nil {
		t.Fatalf("shutdown must skip cleanly: %v", err)
	}
	if err := RunDeployment(zap.NewNop().Sugar()); err != nil {
		t.Fatalf("deployment hook must skip cleanly: %v", err)
	}
}

func TestHooksSkipWithMissingScratchDir(t *testing.T) {
	t.Setenv(shared.ScratchDirEnv, filepath.Join(t.TempDir(), "does-not-exist"))
	bag := state.NewBag()
	if err := Startup(context.Background(), bag); err != nil {
		t.Fatalf("missing path must be treated as skip: %v", err)
	}
}

func TestDeploymentMarker(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(shared.ScratchDirEnv, dir)
	if err := RunDeployment(zap.NewNop().Sugar()); err != nil {
		t.Fatalf("deployment hook failed: %v", err)
	}
	if len(markerFiles(t, dir, "deployment-")) != 1 {
		t.Fatal("expected a deployment marker")
	}
}
