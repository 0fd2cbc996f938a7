// Package fixture loads the YAML fixtures the cmd/fwavc-* demo binaries use
// to exercise the library without real FireWire hardware: a simulated AV/C
// responder (for discovery) and a receive-session profile (for the isoch
// demo).
package fixture

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kvaudio/fwavc/fwerr"
)

// ExchangeYAML is one canned request/response pair in a Responder fixture.
type ExchangeYAML struct {
	Request  string `yaml:"request"`
	Response string `yaml:"response"`
}

// ResponderYAML is the on-disk shape of a -fixture file for fwavc-discover.
type ResponderYAML struct {
	Exchanges []ExchangeYAML `yaml:"exchanges"`
}

// LoadResponder reads and parses a Responder fixture file.
func LoadResponder(path string) (*ResponderYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.KindNotFound, "reading fixture file", err)
	}
	var r ResponderYAML
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fwerr.Wrap(fwerr.KindBadArgument, "parsing fixture YAML", err)
	}
	return &r, nil
}

// Responder is an in-memory fwavc.Transport backed by a fixed table of
// hex-encoded request/response pairs, letting the demo binaries and tests
// exercise the Topology/Plug Detail parsers without a real device.
type Responder struct {
	table map[string][]byte
}

// NewResponder builds a Responder from a parsed fixture.
func NewResponder(y *ResponderYAML) (*Responder, error) {
	table := make(map[string][]byte, len(y.Exchanges))
	for _, ex := range y.Exchanges {
		req, err := decodeHex(ex.Request)
		if err != nil {
			return nil, fwerr.Wrap(fwerr.KindBadArgument, "decoding fixture request hex", err)
		}
		resp, err := decodeHex(ex.Response)
		if err != nil {
			return nil, fwerr.Wrap(fwerr.KindBadArgument, "decoding fixture response hex", err)
		}
		table[string(req)] = resp
	}
	return &Responder{table: table}, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

// Send implements fwavc.Transport by exact frame lookup.
func (r *Responder) Send(_ context.Context, frame []byte) ([]byte, error) {
	resp, ok := r.table[string(frame)]
	if !ok {
		return nil, fmt.Errorf("no fixture response for request %x", frame)
	}
	return resp, nil
}

// ReceiveProfileYAML is the on-disk shape of a -profile file for
// fwavc-receive: the isoch session parameters a real Port would need.
type ReceiveProfileYAML struct {
	SampleRate            int `yaml:"sample_rate"`
	Channel               int `yaml:"channel"`
	Speed                 int `yaml:"speed"`
	NumGroups             int `yaml:"num_groups"`
	PacketsPerGroup       int `yaml:"packets_per_group"`
	PacketDataSize        int `yaml:"packet_data_size"`
	CallbackGroupInterval int `yaml:"callback_group_interval"`
	RingCapacityFrames    int `yaml:"ring_capacity_frames"`
}

// LoadReceiveProfile reads and parses a receive-session profile file.
func LoadReceiveProfile(path string) (*ReceiveProfileYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fwerr.Wrap(fwerr.KindNotFound, "reading profile file", err)
	}
	var p ReceiveProfileYAML
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fwerr.Wrap(fwerr.KindBadArgument, "parsing profile YAML", err)
	}
	return &p, nil
}
