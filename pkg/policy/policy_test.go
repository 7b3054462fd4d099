package policy

import (
	"testing"

	"github.com/blacktop/shiki/internal/bootargs"
	"github.com/blacktop/shiki/internal/config"
	"github.com/blacktop/shiki/pkg/cpu"
	"github.com/blacktop/shiki/pkg/kernel"
	"github.com/blacktop/shiki/pkg/registry"
	"github.com/stretchr/testify/assert"
)

func opts(args string) *config.Options {
	return config.Parse(bootargs.Parse(args))
}

func v(s string) kernel.Version {
	kv, err := kernel.Parse(s)
	if err != nil {
		panic(err)
	}
	return kv
}

func TestEvaluate(t *testing.T) {
	good := Facts{OS: v("17.7.0"), CPU: cpu.Haswell, Autodetect: true}

	tests := []struct {
		name  string
		args  string
		facts Facts
		want  map[registry.Section]State
	}{
		{
			name:  "nothing_requested",
			args:  "shikigva=0",
			facts: good,
			want:  map[registry.Section]State{},
		},
		{
			name:  "all_requested",
			args:  "shikigva=255",
			facts: good,
			want: map[registry.Section]State{
				registry.SectionOFFLINE:   Active,
				registry.SectionBGRA:      Active,
				registry.SectionCOMPAT:    Active,
				registry.SectionWHITELIST: Active,
				registry.SectionKEGVA:     Tentative,
				registry.SectionBOARDID:   Tentative,
				registry.SectionNSTREAM:   Active,
				registry.SectionNVIDIA:    Active,
			},
		},
		{
			name:  "compat_needs_cpu",
			args:  "shikigva=4",
			facts: Facts{OS: v("17.7.0")},
			want:  map[registry.Section]State{},
		},
		{
			name:  "key_exchange_needs_autodetect",
			args:  "shikigva=16",
			facts: Facts{OS: v("17.7.0"), CPU: cpu.Haswell},
			want:  map[registry.Section]State{},
		},
		{
			name:  "default_in_range",
			args:  "",
			facts: good,
			want:  map[registry.Section]State{registry.SectionKEGVA: Tentative},
		},
		{
			name:  "default_lower_bound",
			args:  "",
			facts: Facts{OS: v("17.5.0"), Autodetect: true},
			want:  map[registry.Section]State{registry.SectionKEGVA: Tentative},
		},
		{
			name:  "default_below_range",
			args:  "",
			facts: Facts{OS: v("17.4.0"), Autodetect: true},
			want:  map[registry.Section]State{},
		},
		{
			name:  "default_above_range",
			args:  "",
			facts: Facts{OS: v("19.0.0"), Autodetect: true},
			want:  map[registry.Section]State{},
		},
		{
			name:  "default_companion",
			args:  "",
			facts: Facts{OS: v("18.2.0"), Autodetect: true, Companion: true},
			want:  map[registry.Section]State{},
		},
		{
			name:  "zero_mask_is_not_absent",
			args:  "shikigva=0",
			facts: Facts{OS: v("18.2.0"), Autodetect: true},
			want:  map[registry.Section]State{},
		},
		{
			name:  "deprecated_flag_keeps_defaults",
			args:  "-shikifps",
			facts: good,
			want: map[registry.Section]State{
				registry.SectionKEGVA:   Tentative,
				registry.SectionNSTREAM: Active,
			},
		},
		{
			name:  "disabled",
			args:  "-shikioff shikigva=255",
			facts: good,
			want:  map[registry.Section]State{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(opts(tt.args), tt.facts)
			assert.Len(t, d, len(registry.Sections()))
			for _, s := range registry.Sections() {
				assert.Equal(t, tt.want[s], d.State(s), s.String())
			}
		})
	}
}

func TestDowngradeIsOneWay(t *testing.T) {
	d := Evaluate(opts("shikigva=48"), Facts{OS: v("18.0.0"), Autodetect: true})
	assert.Equal(t, Tentative, d.State(registry.SectionKEGVA))

	assert.True(t, d.Downgrade(registry.SectionKEGVA, "invalid platform-id"))
	assert.Equal(t, Inactive, d.State(registry.SectionKEGVA))
	assert.Equal(t, "invalid platform-id", d[registry.SectionKEGVA].Reason)
	assert.False(t, d.Downgrade(registry.SectionKEGVA, "again"))
	assert.False(t, d.Confirm(registry.SectionKEGVA), "inactive never returns to active")

	assert.True(t, d.Confirm(registry.SectionBOARDID))
	assert.Equal(t, Active, d.State(registry.SectionBOARDID))
	assert.False(t, d.Confirm(registry.SectionBOARDID))
}

func TestSupported(t *testing.T) {
	tests := []struct {
		version string
		beta    bool
		wantErr bool
	}{
		{"12.6.0", false, true},
		{"13.0.0", false, false},
		{"18.7.0", false, false},
		{"19.0.0", false, true},
		{"19.0.0", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := DefaultTable.Supported(v(tt.version), tt.beta)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedKernel)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.Error(t, DefaultTable.Supported(kernel.Version{}, true))
}

func TestSections(t *testing.T) {
	d := Evaluate(opts("shikigva=1"), Facts{OS: v("16.7.0")})
	assert.Equal(t, registry.Sections(), d.Sections())
	assert.Equal(t, "active", d.State(registry.SectionOFFLINE).String())
	assert.True(t, d.State(registry.SectionOFFLINE).Enabled())
	assert.False(t, d.State(registry.SectionBGRA).Enabled())
}
