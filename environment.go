// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package metaplan

import "runtime"

// EnvironmentKind identifies the kind of runtime we're running in.
type EnvironmentKind int

const (
	// EnvUnknown is used when the runtime could not be determined.
	EnvUnknown EnvironmentKind = iota
	// EnvNode is a native process with direct file system access,
	// where small reads are cheap.
	EnvNode
	// EnvBrowser is a sandboxed runtime (js/wasm) where every read is expensive.
	EnvBrowser
)

func (k EnvironmentKind) String() string {
	switch k {
	case EnvNode:
		return "node"
	case EnvBrowser:
		return "browser"
	default:
		return "unknown"
	}
}

// Environment describes the capabilities of the runtime.
// It is passed to Resolve so the resolver never has to look at global state.
type Environment struct {
	Kind EnvironmentKind
}

// DetectEnvironment returns the Environment of the running process.
func DetectEnvironment() Environment {
	return environmentForGOOS(runtime.GOOS)
}

func environmentForGOOS(goos string) Environment {
	switch goos {
	case "js":
		return Environment{Kind: EnvBrowser}
	case "wasip1":
		return Environment{Kind: EnvUnknown}
	default:
		return Environment{Kind: EnvNode}
	}
}
