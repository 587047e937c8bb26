package inspect

import (
	"os/exec"
	"strings"
	"sync"
)

// Toolchain is the cached result of probing the local rustc and
// rust-analyzer binaries. Probing runs once per process.
type Toolchain struct {
	Channel             Channel
	RustcVerboseVersion string
	RustAnalyzerVersion string
}

var (
	toolchainOnce sync.Once
	toolchain     Toolchain
)

// DetectToolchain probes `rustc -Vv` for the release channel and the
// rust-analyzer binary for its version. A missing rustc is treated as
// stable so strict gating hides nightly-only views.
func DetectToolchain(rustAnalyzerPath string) Toolchain {
	toolchainOnce.Do(func() {
		toolchain = probeToolchain(rustAnalyzerPath)
	})
	return toolchain
}

func probeToolchain(rustAnalyzerPath string) Toolchain {
	tc := Toolchain{Channel: ChannelStable}

	if out, err := exec.Command("rustc", "-Vv").Output(); err == nil {
		tc.RustcVerboseVersion = string(out)
		tc.Channel = channelFromVerboseVersion(string(out))
	}
	if rustAnalyzerPath != "" {
		if out, err := exec.Command(rustAnalyzerPath, "--version").Output(); err == nil {
			tc.RustAnalyzerVersion = strings.TrimSpace(string(out))
		}
	}
	return tc
}

func channelFromVerboseVersion(out string) Channel {
	for _, line := range strings.Split(out, "\n") {
		release, ok := strings.CutPrefix(line, "release:")
		if !ok {
			continue
		}
		switch {
		case strings.Contains(release, "nightly"):
			return ChannelNightly
		case strings.Contains(release, "dev"):
			return ChannelDev
		}
		break
	}
	return ChannelStable
}
