// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"grimm.is/procwall/internal/errors"
)

// LoadFile reads, decodes, and validates a config file. Files ending in
// .json use HCL's JSON syntax, everything else native HCL.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to read config file")
	}
	return Load(path, data)
}

// Load decodes config source. filename is used for diagnostics and to
// pick the syntax.
func Load(filename string, data []byte) (*Config, error) {
	parser := hclparse.NewParser()

	var (
		file  *hcl.File
		diags hcl.Diagnostics
	)
	if strings.ToLower(filepath.Ext(filename)) == ".json" {
		file, diags = parser.ParseJSON(data, filename)
	} else {
		file, diags = parser.ParseHCL(data, filename)
	}
	if diags.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "failed to parse config: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "failed to decode config: %s", diags.Error())
	}
	cfg.applyDefaults()

	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Wrap(errs, errors.KindValidation, "invalid config")
	}
	return &cfg, nil
}
