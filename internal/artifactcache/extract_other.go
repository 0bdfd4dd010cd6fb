//go:build !linux && !windows

package artifactcache

import (
	"context"
	"fmt"

	"factorio-instanced/internal/progress"
)

// downloadAndExtractEngine has no implementation outside Linux and Windows:
// Factorio only ships headless Linux and manual Windows builds.
func (c *Cache) downloadAndExtractEngine(ctx context.Context, dlURL, dest string, sink progress.Sink) error {
	return fmt.Errorf("engine extraction is not supported on this platform")
}
