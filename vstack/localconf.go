// SPDX-License-Identifier: GPL-3.0-or-later

package vstack

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// localConfFileName is the name of the optional local
// configuration file inside the storage path.
const localConfFileName = "local.conf"

// localConf is the content of the local configuration file.
type localConf struct {
	Settings struct {
		PrimaryPort   uint16 `yaml:"primaryPort"`
		SecondaryPort uint16 `yaml:"secondaryPort"`
		TertiaryPort  uint16 `yaml:"tertiaryPort"`
		MTU           int    `yaml:"mtu"`
	} `yaml:"settings"`
}

// loadLocalConf reads the local configuration file. A missing
// file yields an empty configuration.
func loadLocalConf(dir string) (*localConf, error) {
	conf := &localConf{}
	data, err := os.ReadFile(filepath.Join(dir, localConfFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return conf, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, err
	}
	return conf, nil
}
