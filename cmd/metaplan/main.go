// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Command metaplan prints resolved parsing plans and walks the metadata
// segments of image files.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
