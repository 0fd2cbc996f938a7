//go:build !linux

package devicewatch

import (
	"context"

	"github.com/kvaudio/fwavc/fwerr"
)

// NewUdevWatcher is unavailable outside Linux; udev is Linux-specific.
func NewUdevWatcher(ctx context.Context) (Watcher, error) {
	return nil, fwerr.New(fwerr.KindNotReady, "device hotplug watching requires linux")
}
