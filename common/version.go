package common

// PackageName identifies this project in metrics and logs.
const PackageName = "keywarden"

// Version is set at build time via -ldflags.
var Version = "dev"
