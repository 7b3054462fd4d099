package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/blacktop/shiki/internal/bootargs"
	"github.com/blacktop/shiki/internal/utils"
	"github.com/spf13/cast"
)

// DefaultBoardID is used for the board-id override when no shiki-id is supplied (iMac14,2)
const DefaultBoardID = "Mac-27ADBB7B4CEE8E61"

// boot-arg names
const (
	ArgGVA     = "shikigva"
	ArgBoardID = "shiki-id"
	ArgDebug   = "-shikidbg"
	ArgBeta    = "-shikibeta"
	// deprecated single purpose flags
	ArgLegacyFPS = "-shikifps"
	ArgLegacyGVA = "-shikigva"
)

// OffArgs disable the patcher entirely (explicit opt-out plus recovery and installer boots)
var OffArgs = []string{"-shikioff", "rp0", "rp", "container-dmg", "root-dmg"}

// GVAFlags is the shikigva bitmask
type GVAFlags uint32

const (
	// ForceOnlineRenderer makes GVA use the online renderer on multi-GPU systems
	ForceOnlineRenderer GVAFlags = 1 << iota
	// AllowNonBGRA lets the decoder accept non-BGRA surfaces
	AllowNonBGRA
	// ForceCompatibleRenderer retargets the renderer table to a compatible CPU generation
	ForceCompatibleRenderer
	// AddExecutableWhitelist whitelists additional executables for hardware decoding
	AddExecutableWhitelist
	// DisableHardwareKeyExchange falls back to software DRM key exchange (needs a working IGPU)
	DisableHardwareKeyExchange
	// ReplaceBoardID makes GVA read hwgva-id instead of board-id
	ReplaceBoardID
	// UnlockFP10Streaming enables FairPlay 1.0 streaming in Safari
	UnlockFP10Streaming
	// NVIDIACompatibility removes the vendor checks that reject NVIDIA decoders
	NVIDIACompatibility
)

var flagNames = []struct {
	flag GVAFlags
	name string
}{
	{ForceOnlineRenderer, "ForceOnlineRenderer"},
	{AllowNonBGRA, "AllowNonBGRA"},
	{ForceCompatibleRenderer, "ForceCompatibleRenderer"},
	{AddExecutableWhitelist, "AddExecutableWhitelist"},
	{DisableHardwareKeyExchange, "DisableHardwareKeyExchange"},
	{ReplaceBoardID, "ReplaceBoardID"},
	{UnlockFP10Streaming, "UnlockFP10Streaming"},
	{NVIDIACompatibility, "NVIDIACompatibility"},
}

// AllFlags lists every defined bit in ascending order
func AllFlags() []GVAFlags {
	fs := make([]GVAFlags, 0, len(flagNames))
	for _, f := range flagNames {
		fs = append(fs, f.flag)
	}
	return fs
}

// Has reports whether every bit of b is set
func (f GVAFlags) Has(b GVAFlags) bool {
	return f&b == b
}

func (f GVAFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	rest := f
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// Options is the typed result of parsing the boot arguments once
type Options struct {
	// Disabled is set by any of OffArgs; DisabledBy names the argument
	Disabled   bool
	DisabledBy string
	// Debug raises logging to debug level (-shikidbg)
	Debug bool
	// Beta allows kernels newer than the supported maximum (-shikibeta)
	Beta bool
	// GVA holds the requested behaviors
	GVA GVAFlags
	// GVAPresent is false when shikigva was not supplied at all, which enables the defaults table
	GVAPresent bool
	// BoardID is the value written as hwgva-id when ReplaceBoardID is active
	BoardID           string
	BoardIDOverridden bool
	// Warnings are emitted once when the patcher starts
	Warnings []string
}

var deprecatedFlags = []struct {
	arg  string
	flag GVAFlags
}{
	{ArgLegacyGVA, ForceOnlineRenderer},
	{ArgLegacyFPS, UnlockFP10Streaming},
}

// Parse turns boot arguments into Options
func Parse(args bootargs.Args) *Options {
	o := &Options{BoardID: DefaultBoardID}

	if name, ok := args.First(OffArgs...); ok {
		o.Disabled = true
		o.DisabledBy = name
	}
	o.Debug = args.Has(ArgDebug)
	o.Beta = args.Has(ArgBeta)

	if v, ok := args.Value(ArgGVA); ok {
		o.GVAPresent = true
		n, err := parseFlags(v)
		if err != nil {
			// a malformed mask requests nothing rather than falling back to the defaults
			o.Warnings = append(o.Warnings, fmt.Sprintf("ignoring malformed %s=%q: %v", ArgGVA, v, err))
		} else {
			o.GVA = n
		}
	}

	for _, d := range deprecatedFlags {
		if !args.Has(d.arg) {
			continue
		}
		if o.GVAPresent {
			o.Warnings = append(o.Warnings, fmt.Sprintf("%s is deprecated and overridden by %s", d.arg, ArgGVA))
			continue
		}
		o.GVA |= d.flag
		o.Warnings = append(o.Warnings, fmt.Sprintf("%s is deprecated, use %s=%d", d.arg, ArgGVA, uint32(d.flag)))
	}

	if v, ok := args.Value(ArgBoardID); ok && v != "" {
		o.BoardID = v
		o.BoardIDOverridden = true
	}

	return o
}

func parseFlags(v string) (GVAFlags, error) {
	if v == "" {
		return 0, fmt.Errorf("empty value")
	}
	n, err := utils.ConvertStrToInt(v)
	if err != nil {
		return 0, err
	}
	if n > math.MaxUint32 {
		return 0, fmt.Errorf("value %#x out of range", n)
	}
	u, err := cast.ToUint32E(n)
	if err != nil {
		return 0, err
	}
	return GVAFlags(u), nil
}
