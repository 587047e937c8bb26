package inspect

import "strings"

// GatingMode controls whether nightly-only views are advertised on a stable
// toolchain. Strict hides them; lenient advertises them and reports the
// missing toolchain at call time.
type GatingMode string

const (
	GatingStrict  GatingMode = "strict"
	GatingLenient GatingMode = "lenient"
)

// ParseGatingMode falls back to strict for anything it does not recognize.
func ParseGatingMode(s string) GatingMode {
	if strings.EqualFold(s, string(GatingLenient)) {
		return GatingLenient
	}
	return GatingStrict
}

// Channel is the detected rustc release channel.
type Channel string

const (
	ChannelStable  Channel = "stable"
	ChannelNightly Channel = "nightly"
	ChannelDev     Channel = "dev"
)

func (c Channel) NightlyLike() bool {
	return c == ChannelNightly || c == ChannelDev
}

// View is one curated inspection preset. Emit maps to `--emit`, Unpretty to
// `-Zunpretty`; views with neither are served by the analyzer instead of the
// compiler.
type View struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	RequiresNightly bool   `json:"requires_nightly"`
	Emit            string `json:"emit,omitempty"`
	Unpretty        string `json:"unpretty,omitempty"`
}

func CuratedViews() []View {
	return []View{
		{Name: "def", Description: "Definition location and symbol identity"},
		{Name: "types", Description: "Type hierarchy for the symbol"},
		{Name: "llvm-ir", Description: "Lowered LLVM IR for a symbol", Emit: "llvm-ir"},
		{Name: "asm", Description: "Assembly for a symbol", Emit: "asm"},
		{Name: "mir", Description: "MIR for a symbol", RequiresNightly: true, Unpretty: "mir"},
	}
}

func FindView(name string) (View, bool) {
	for _, v := range CuratedViews() {
		if strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return View{}, false
}

// ViewAdvertised reports whether a view shows up in capabilities under the
// given channel and gating mode.
func ViewAdvertised(v View, channel Channel, mode GatingMode) bool {
	if v.RequiresNightly && !channel.NightlyLike() && mode == GatingStrict {
		return false
	}
	return true
}

// ViewRunnable reports whether the toolchain can actually execute the view.
func ViewRunnable(v View, channel Channel) bool {
	return !(v.RequiresNightly && !channel.NightlyLike())
}
