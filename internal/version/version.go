package version

// Current is the release version reported by the binaries.
const Current = "0.1.0"
