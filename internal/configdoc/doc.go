// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package configdoc renders reference documentation for the HCL
// configuration from the annotated Go structs that decode it.
//
// Field doc comments may carry annotations on their own lines:
//
//	// @default: "10s"
//	// @enum: drop, accept
//	// @example: "127.0.0.1:9641"
//	// @min: 1
//	// @max: 65535
package configdoc
