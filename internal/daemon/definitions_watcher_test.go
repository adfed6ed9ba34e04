package daemon

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefinitionsWatcherReloadsRegistry(t *testing.T) {
	svc := newTestServices(t, "")
	w, err := NewDefinitionsWatcher(svc.Config.Definitions, svc.Reload)
	require.NoError(t, err)
	w.debounceTime = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	updated := strings.Replace(testDefinitions, "builds:", "  - name: publish\n    dependencies: [package]\n    command: \"true\"\nbuilds:", 1)
	require.NoError(t, os.WriteFile(svc.Config.Definitions, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		_, err := svc.Registry.GetTask("publish")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDefinitionsWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewDefinitionsWatcher(t.TempDir()+"/defs.yaml", func(context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop(context.Background()))
	require.NoError(t, w.Stop(context.Background()))
}
