//go:build !amd64 && !arm64

package maxine

// defaultArchitecture is used when the host architecture has no register file.
const defaultArchitecture = "amd64"
