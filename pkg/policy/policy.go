// Package policy maps the requested behaviors and the detected environment to section decisions.
package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/blacktop/shiki/internal/config"
	"github.com/blacktop/shiki/pkg/cpu"
	"github.com/blacktop/shiki/pkg/kernel"
	"github.com/blacktop/shiki/pkg/registry"
	semver "github.com/hashicorp/go-version"
)

var ErrUnsupportedKernel = errors.New("unsupported kernel")

// State is the activation state of a section
type State int

const (
	Inactive State = iota
	Active
	// Tentative sections are active until post-load discovery fails
	Tentative
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Tentative:
		return "tentative"
	default:
		return "inactive"
	}
}

// Enabled reports whether descriptors in this state are applied
func (s State) Enabled() bool {
	return s != Inactive
}

// Facts are the environment facts the policy depends on
type Facts struct {
	OS  kernel.Version
	CPU cpu.Generation
	// Autodetect is set when GPU properties can be queried at image load
	Autodetect bool
	// Companion is set when another extension already carries the key exchange patch
	Companion bool
}

// Decision is the state of one section plus a human readable reason
type Decision struct {
	State  State
	Reason string
}

// Decisions maps every section to its decision
type Decisions map[registry.Section]Decision

// State returns the state of s; unknown sections are Inactive
func (d Decisions) State(s registry.Section) State {
	return d[s].State
}

// Downgrade moves s to Inactive. It returns false if s already was inactive.
func (d Decisions) Downgrade(s registry.Section, reason string) bool {
	cur, ok := d[s]
	if !ok || cur.State == Inactive {
		return false
	}
	d[s] = Decision{State: Inactive, Reason: reason}
	return true
}

// Confirm moves a tentative section to Active
func (d Decisions) Confirm(s registry.Section) bool {
	if d[s].State != Tentative {
		return false
	}
	d[s] = Decision{State: Active, Reason: d[s].Reason}
	return true
}

// Sections returns the decided sections in declaration order
func (d Decisions) Sections() []registry.Section {
	ss := make([]registry.Section, 0, len(d))
	for s := range d {
		ss = append(ss, s)
	}
	sort.Slice(ss, func(i, j int) bool { return ss[i] < ss[j] })
	return ss
}

// Requirement checks a dependency of a behavior; it returns a reason when unmet
type Requirement func(Facts) (bool, string)

// RequireCPU needs a known CPU generation
func RequireCPU(f Facts) (bool, string) {
	if f.CPU == cpu.Unknown {
		return false, "cpu generation lookup failed"
	}
	return true, ""
}

// RequireAutodetect needs GPU autodetection
func RequireAutodetect(f Facts) (bool, string) {
	if !f.Autodetect {
		return false, "gpu autodetection unavailable"
	}
	return true, ""
}

// Rule binds a configuration bit to the section it enables
type Rule struct {
	Flag      config.GVAFlags
	Section   registry.Section
	Tentative bool
	Requires  []Requirement
}

// Default enables Flags when the bitmask is absent and the kernel matches
type Default struct {
	Kernels         semver.Constraints
	Flags           config.GVAFlags
	UnlessCompanion bool
}

// Table is the version-range keyed behavior table
type Table struct {
	Rules    []Rule
	Defaults []Default
	// MinMajor and MaxMajor bound the supported Darwin releases
	MinMajor int
	MaxMajor int
}

// DefaultTable is the behavior table for the GVA patches
var DefaultTable = &Table{
	Rules: []Rule{
		{Flag: config.ForceOnlineRenderer, Section: registry.SectionOFFLINE},
		{Flag: config.AllowNonBGRA, Section: registry.SectionBGRA},
		{Flag: config.ForceCompatibleRenderer, Section: registry.SectionCOMPAT, Requires: []Requirement{RequireCPU}},
		{Flag: config.AddExecutableWhitelist, Section: registry.SectionWHITELIST},
		{Flag: config.DisableHardwareKeyExchange, Section: registry.SectionKEGVA, Tentative: true, Requires: []Requirement{RequireAutodetect}},
		{Flag: config.ReplaceBoardID, Section: registry.SectionBOARDID, Tentative: true},
		{Flag: config.UnlockFP10Streaming, Section: registry.SectionNSTREAM},
		{Flag: config.NVIDIACompatibility, Section: registry.SectionNVIDIA},
	},
	Defaults: []Default{
		{
			Kernels:         mustConstraints(">= 17.5.0, < 19.0.0"),
			Flags:           config.DisableHardwareKeyExchange,
			UnlessCompanion: true,
		},
	},
	MinMajor: kernel.Mavericks,
	MaxMajor: kernel.Mojave,
}

func mustConstraints(s string) semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Supported checks v against the supported release range; beta lifts the upper bound
func (t *Table) Supported(v kernel.Version, beta bool) error {
	switch {
	case v.IsZero():
		return fmt.Errorf("%w: unknown version", ErrUnsupportedKernel)
	case v.Major < t.MinMajor:
		return fmt.Errorf("%w: %s (%s) is older than %d", ErrUnsupportedKernel, v, v.Name(), t.MinMajor)
	case v.Major > t.MaxMajor && !beta:
		return fmt.Errorf("%w: %s (%s) is newer than %d, use -shikibeta", ErrUnsupportedKernel, v, v.Name(), t.MaxMajor)
	}
	return nil
}

// DefaultFlags returns the behaviors enabled when no bitmask was supplied
func (t *Table) DefaultFlags(f Facts) config.GVAFlags {
	var flags config.GVAFlags
	for _, d := range t.Defaults {
		if !f.OS.Satisfies(d.Kernels) {
			continue
		}
		if d.UnlessCompanion && f.Companion {
			continue
		}
		flags |= d.Flags
	}
	return flags
}

// Evaluate decides every section once per start-up
func (t *Table) Evaluate(opts *config.Options, f Facts) Decisions {
	d := make(Decisions, len(t.Rules))

	if opts.Disabled {
		for _, r := range t.Rules {
			d[r.Section] = Decision{State: Inactive, Reason: "disabled by " + opts.DisabledBy}
		}
		return d
	}

	requested := opts.GVA
	var defaults config.GVAFlags
	if !opts.GVAPresent {
		defaults = t.DefaultFlags(f)
	}

	for _, r := range t.Rules {
		var reason string
		switch {
		case requested.Has(r.Flag):
			reason = "requested"
		case defaults.Has(r.Flag):
			reason = "default"
		default:
			d[r.Section] = Decision{State: Inactive, Reason: "not requested"}
			continue
		}
		dec := Decision{State: Active, Reason: reason}
		if r.Tentative {
			dec.State = Tentative
		}
		for _, req := range r.Requires {
			if ok, why := req(f); !ok {
				dec = Decision{State: Inactive, Reason: why}
				break
			}
		}
		d[r.Section] = dec
	}

	return d
}

// Evaluate runs DefaultTable
func Evaluate(opts *config.Options, f Facts) Decisions {
	return DefaultTable.Evaluate(opts, f)
}
