// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package probe

// Attach binds one program of the object to a kernel symbol.
type Attach struct {
	Program string
	Symbol  string
	Return  bool
}

// Config locates the probe object.
type Config struct {
	ObjectPath string
	RingBuffer string
	Attach     []Attach
}
