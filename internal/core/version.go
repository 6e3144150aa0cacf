package core

// Version is the application version, overridden at build time via
// -ldflags "-X github.com/sudoStacks/retreivr/internal/core.Version=...".
var Version = "dev"
