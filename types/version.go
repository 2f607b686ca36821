package types

// Version is the canonical project version.
// The CLI, the runtime, and the graph image format share this version.
const Version = "0.3.0"

// ImageVersion is the graph image format version written by `tickflow compile`.
// Images with a different major version are rejected on load.
const ImageVersion = "1"
