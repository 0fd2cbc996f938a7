// Command fwavc-discover runs the Topology Parser against either a live
// Transport (left to a real driver binding, not provided here) or a
// fixture file of canned AV/C exchanges, and prints the resulting device
// model.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/kvaudio/fwavc"
	"github.com/kvaudio/fwavc/devicewatch"
	"github.com/kvaudio/fwavc/fixture"
	"github.com/kvaudio/fwavc/internal/logging"
	"github.com/kvaudio/fwavc/topology"
)

var discoverLog = logging.For("fwavc-discover")

func main() {
	fixturePath := pflag.StringP("fixture", "f", "", "YAML fixture of canned AV/C request/response exchanges (required; no live driver binding is built in)")
	timeout := pflag.DurationP("timeout", "t", 2*time.Second, "per-command timeout")
	watch := pflag.BoolP("watch", "w", false, "subscribe to udev hotplug events and re-run discovery on every FireWire attach")
	verbose := pflag.BoolP("verbose", "v", false, "debug-level logging")
	help := pflag.BoolP("help", "h", false, "display help text")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fwavc-discover - run the AV/C topology parser against a fixture device.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: fwavc-discover -f fixture.yaml [-w]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || *fixturePath == "" {
		pflag.Usage()
		if *fixturePath == "" {
			os.Exit(1)
		}
		return
	}

	if *verbose {
		logging.SetLevel(log.DebugLevel)
	}

	responderYAML, err := fixture.LoadResponder(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading fixture: %v\n", err)
		os.Exit(1)
	}
	responder, err := fixture.NewResponder(responderYAML)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building fixture responder: %v\n", err)
		os.Exit(1)
	}

	transport := fwavc.NewSerializingTransport(responder.Send)

	if err := runDiscovery(transport, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "discovery failed: %v\n", err)
		os.Exit(1)
	}

	if *watch {
		watchAndRediscover(transport, *timeout)
	}
}

func runDiscovery(transport fwavc.Transport, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	info, err := topology.Discover(ctx, transport)
	if err != nil {
		return err
	}
	printDeviceInfo(info)
	return nil
}

// watchAndRediscover subscribes to devicewatch's hotplug events and re-runs
// discovery against the same transport on every attach. The transport stays
// fixture-backed here since no live driver binding exists in this module;
// a caller pointing this binary at a real Transport would see each physical
// attach trigger a fresh topology walk.
func watchAndRediscover(transport fwavc.Transport, timeout time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := devicewatch.NewUdevWatcher(ctx)
	if err != nil {
		discoverLog.Warn("hotplug watching unavailable", "err", err)
		return
	}
	defer watcher.Close()

	discoverLog.Info("watching for FireWire attach events")
	for attach := range watcher.AttachEvents() {
		discoverLog.Info("device attached, re-running discovery", "syspath", attach.SyspathPath, "guid", attach.GUID)
		if err := runDiscovery(transport, timeout); err != nil {
			discoverLog.Warn("discovery after attach failed", "err", err)
		}
	}
}

func printDeviceInfo(info *fwavc.DeviceInfo) {
	fmt.Printf("Unit plugs: iso_in=%d iso_out=%d ext_in=%d ext_out=%d\n",
		info.IsoInCount, info.IsoOutCount, info.ExtInCount, info.ExtOutCount)
	printPlugs("iso-in", info.IsoInPlugs)
	printPlugs("iso-out", info.IsoOutPlugs)
	printPlugs("ext-in", info.ExtInPlugs)
	printPlugs("ext-out", info.ExtOutPlugs)

	if info.Music != nil {
		fmt.Printf("Music subunit @ 0x%02X: %d info blocks\n", info.Music.Address, len(info.Music.InfoBlocks))
		printPlugs("music-dest", info.Music.DestPlugs)
		printPlugs("music-source", info.Music.SourcePlugs)
	}
	if info.Audio != nil {
		fmt.Printf("Audio subunit @ 0x%02X\n", info.Audio.Address)
		printPlugs("audio-dest", info.Audio.DestPlugs)
		printPlugs("audio-source", info.Audio.SourcePlugs)
	}
}

func printPlugs(label string, plugs []fwavc.AudioPlug) {
	for _, p := range plugs {
		rate := "?"
		if p.CurrentFormat != nil {
			rate = fmt.Sprintf("%d", p.CurrentFormat.SampleRate)
		}
		fmt.Printf("  %s[%d]: rate=%s supported=%d\n", label, p.PlugNum, rate, len(p.SupportedFormat))
	}
}
