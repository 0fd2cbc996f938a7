//go:build linux

package devicewatch

import (
	"context"

	udev "github.com/jochenvg/go-udev"

	"github.com/kvaudio/fwavc/internal/logging"
)

var log = logging.For("devicewatch")

// udevWatcher backs Watcher with a udev netlink monitor filtered to the
// "firewire" subsystem.
type udevWatcher struct {
	events chan DeviceAttach
	cancel context.CancelFunc
}

// NewUdevWatcher opens a udev monitor and starts forwarding "add" events
// on the firewire subsystem as DeviceAttach values.
func NewUdevWatcher(ctx context.Context) (Watcher, error) {
	u := udev.Udev{}
	monitor := u.NewMonitorFromNetlink("udev")
	if err := monitor.FilterAddMatchSubsystem("firewire"); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	deviceChan, _, err := monitor.DeviceChan(watchCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	w := &udevWatcher{events: make(chan DeviceAttach, 8), cancel: cancel}
	go w.run(deviceChan)
	return w, nil
}

func (w *udevWatcher) run(deviceChan <-chan *udev.Device) {
	defer close(w.events)
	for dev := range deviceChan {
		if dev.Action() != "add" {
			continue
		}
		attach := DeviceAttach{
			SyspathPath: dev.Syspath(),
			GUID:        dev.PropertyValue("ID_SERIAL"),
		}
		select {
		case w.events <- attach:
		default:
			log.Warn("dropping attach event, consumer too slow", "syspath", attach.SyspathPath)
		}
	}
}

func (w *udevWatcher) AttachEvents() <-chan DeviceAttach { return w.events }

func (w *udevWatcher) Close() error {
	w.cancel()
	return nil
}
