// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import _ "embed"

// Source is the annotated struct definition, used to render the
// configuration reference.
//
//go:embed config.go
var Source []byte
