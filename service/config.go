// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rbmk-project/vsock/result"
	"gopkg.in/yaml.v3"
)

// Config contains the settings applied by [*Service.StartWithConfig].
//
// A nil toggle keeps the node default.
type Config struct {
	// Path is the OPTIONAL directory storing the node state.
	Path string `yaml:"path"`

	// Port is the OPTIONAL primary port. Zero selects [vstack.DefaultPort].
	Port uint16 `yaml:"port"`

	// LocalStorage toggles storing the node state under Path.
	LocalStorage *bool `yaml:"local-storage"`

	// NetworkCaching toggles rejoining the cached networks on start.
	NetworkCaching *bool `yaml:"network-caching"`

	// PeerCaching toggles caching the peers.
	PeerCaching *bool `yaml:"peer-caching"`

	// LocalConf toggles reading local.conf from Path.
	LocalConf *bool `yaml:"local-conf"`

	// Networks contains the network IDs to join, as 16 hex digits.
	Networks []string `yaml:"networks"`
}

// ParseConfig parses a YAML document into a [*Config] and validates it.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML config at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// errNoNetworkID indicates that a network ID is zero.
var errNoNetworkID = errors.New("network ID must not be zero")

// validate ensures that the config is valid.
func (c *Config) validate() error {
	if c.LocalConf != nil && *c.LocalConf && c.Path == "" {
		return errors.New("local-conf requires a path")
	}
	_, err := c.networkIDs()
	return err
}

// networkIDs parses the network IDs.
func (c *Config) networkIDs() ([]uint64, error) {
	var nwids []uint64
	for _, entry := range c.Networks {
		nwid, err := parseNetworkID(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", entry, err)
		}
		nwids = append(nwids, nwid)
	}
	return nwids, nil
}

// parseNetworkID parses a network ID written as hex digits.
func parseNetworkID(value string) (uint64, error) {
	value = strings.TrimPrefix(strings.ToLower(value), "0x")
	nwid, err := strconv.ParseUint(value, 16, 64)
	if err != nil {
		return 0, err
	}
	if nwid == 0 {
		return 0, errNoNetworkID
	}
	return nwid, nil
}

// formatNetworkID formats a network ID as 16 hex digits.
func formatNetworkID(nwid uint64) string {
	return fmt.Sprintf("%016x", nwid)
}

// StartWithConfig applies the toggles in cfg, starts the node and
// joins the configured networks. It stops at the first failure.
func (s *Service) StartWithConfig(cfg *Config) result.Empty {
	const op = "StartWithConfig"
	if err := cfg.validate(); err != nil {
		return result.Fail[struct{}](result.NewReport(result.KindArgument, err.Error(), op))
	}
	nwids, _ := cfg.networkIDs()

	toggles := []struct {
		value *bool
		apply func(bool) result.Empty
	}{
		{cfg.LocalStorage, s.AllowNetworkLocalStorage},
		{cfg.NetworkCaching, s.AllowNetworkCaching},
		{cfg.PeerCaching, s.AllowPeerCaching},
		{cfg.LocalConf, s.AllowLocalConf},
	}
	for _, toggle := range toggles {
		if toggle.value == nil {
			continue
		}
		if r := toggle.apply(*toggle.value); r.HasError() {
			return r
		}
	}

	if r := s.Start(cfg.Path, cfg.Port); r.HasError() {
		return r
	}
	for _, nwid := range nwids {
		if r := s.Join(nwid); r.HasError() {
			return r
		}
	}
	return result.Success()
}
