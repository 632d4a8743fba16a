package pkg

import "runtime/debug"

// BuildID is the firmware build identifier reported through the update
// protocol. Set it at link time:
//
//	go build -ldflags "-X github.com/ardnew/papernote/pkg.BuildID=abc1234"
//
// When empty, the VCS revision recorded by the Go toolchain is used.
var BuildID string

// Version returns the build identifier, falling back to the VCS revision
// and finally to "unknown".
func Version() string {
	if BuildID != "" {
		return BuildID
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return "unknown"
}
