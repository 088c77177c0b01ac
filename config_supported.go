//go:build amd64 || arm64

package maxine

import "runtime"

// defaultArchitecture is the host architecture.
const defaultArchitecture = runtime.GOARCH
