package resources

import (
	"testing"

	"github.com/blacktop/shiki/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	procs, mods, err := Default()
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, AppleGVA, mods[0].Path)
	assert.Equal(t, CoreFP, mods[1].Path)
	assert.Len(t, procs, 3)

	reg, err := registry.New(procs, mods)
	require.NoError(t, err, "the embedded table must be valid")
	for _, s := range registry.Sections() {
		assert.NotEmpty(t, reg.FindBySection(s), s.String())
	}

	bid := reg.FindBySection(registry.SectionBOARDID)
	d, err := reg.Descriptor(bid[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("board-id"), d.Find)
	assert.Equal(t, []byte("hwgva-id"), d.Replace)

	for _, s := range []registry.Section{registry.SectionNVIDIA, registry.SectionCOMPAT} {
		d, err := reg.Descriptor(reg.FindBySection(s)[0])
		require.NoError(t, err)
		assert.True(t, d.Dynamic, s.String())
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"wrong_type", `<plist version="1.0"><array><string>x</string></array></plist>`},
		{"bad_section", `<plist version="1.0"><dict><key>Processes</key><array><dict><key>Path</key><string>/a</string><key>Section</key><string>bogus</string></dict></array></dict></plist>`},
		{"bad_match", `<plist version="1.0"><dict><key>Processes</key><array><dict><key>Path</key><string>/a</string><key>Match</key><string>glob</string><key>Section</key><string>board-id</string></dict></array></dict></plist>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
