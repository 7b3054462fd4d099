package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gva   = "/System/Library/PrivateFrameworks/AppleGVA.framework/Versions/A/AppleGVA"
	fps   = "/System/Library/PrivateFrameworks/CoreFP.framework/Versions/A/CoreFP"
	other = "/usr/lib/libother.dylib"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(
		[]Process{
			{Path: "/Applications/Safari.app/Contents/MacOS/Safari", Section: SectionNSTREAM},
			{Path: "/System/Library/", Match: MatchPrefix, Section: SectionOFFLINE},
		},
		[]Module{
			{
				Path: gva,
				Patches: []Descriptor{
					{Section: SectionOFFLINE, Find: []byte("offline"), Replace: []byte("online!")},
					{Section: SectionBOARDID, Find: []byte("board-id"), Replace: []byte("hwgva-id")},
					{Section: SectionNVIDIA, Dynamic: true},
				},
			},
			{
				Path: fps,
				Patches: []Descriptor{
					{Section: SectionNSTREAM, Find: []byte{0x74, 0x10}, Replace: []byte{0xEB, 0x10}},
					{Section: SectionOFFLINE, Find: []byte{0x01}, Replace: []byte{0x00}},
				},
			},
		},
	)
	require.NoError(t, err)
	return r
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		mod     Module
		wantErr error
	}{
		{"length_mismatch", Module{Path: gva, Patches: []Descriptor{{Section: SectionBGRA, Find: []byte{1, 2}, Replace: []byte{1}}}}, ErrLengthMismatch},
		{"empty_find", Module{Path: gva, Patches: []Descriptor{{Section: SectionBGRA}}}, ErrInvalidDescriptor},
		{"unused_section", Module{Path: gva, Patches: []Descriptor{{Section: SectionUnused, Find: []byte{1}, Replace: []byte{2}}}}, ErrInvalidDescriptor},
		{"dynamic_with_bytes", Module{Path: gva, Patches: []Descriptor{{Section: SectionCOMPAT, Dynamic: true, Find: []byte{1}, Replace: []byte{2}}}}, ErrInvalidDescriptor},
		{"too_large", Module{Path: gva, Patches: []Descriptor{{Section: SectionBGRA, Find: make([]byte, 33), Replace: make([]byte, 33)}}}, ErrInvalidDescriptor},
		{"no_path", Module{Patches: []Descriptor{{Section: SectionBGRA, Find: []byte{1}, Replace: []byte{2}}}}, ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, []Module{tt.mod})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSetSectionAcrossModules(t *testing.T) {
	r := testRegistry(t)

	offline := r.FindBySection(SectionOFFLINE)
	require.Len(t, offline, 2)
	assert.Equal(t, gva, r.Path(offline[0]))
	assert.Equal(t, fps, r.Path(offline[1]))

	// two descriptors plus one process hook
	assert.Equal(t, 3, r.SetSection(SectionOFFLINE, SectionUnused))

	still := r.FindBySection(SectionOFFLINE)
	assert.Equal(t, offline, still, "descriptors keep their tag after deactivation")
	for _, h := range still {
		assert.False(t, r.Active(h))
		d, err := r.Descriptor(h)
		require.NoError(t, err)
		assert.Equal(t, SectionOFFLINE, d.Section)
	}
	assert.False(t, r.SectionActive(SectionOFFLINE))

	for _, tup := range append(r.Tuples(gva), r.Tuples(fps)...) {
		assert.NotEqual(t, SectionOFFLINE, tup.Section)
	}
	for _, p := range r.Processes() {
		assert.NotEqual(t, SectionOFFLINE, p.Section)
	}
	assert.Len(t, r.Processes(), 1)
}

func TestInactiveSurvivesReload(t *testing.T) {
	r := testRegistry(t)
	nv := r.FindBySection(SectionNVIDIA)
	require.Len(t, nv, 1)

	r.Disable(SectionNVIDIA)
	r.BeginLoad(gva)
	require.NoError(t, r.Fill(nv[0], []byte{1, 2}, []byte{3, 4}))

	for _, tup := range r.Tuples(gva) {
		assert.NotEqual(t, SectionNVIDIA, tup.Section, "reload must not resurrect an inactive section")
	}
	assert.False(t, r.Active(nv[0]))
	assert.False(t, r.Ready(nv[0]))
}

func TestFillLifecycle(t *testing.T) {
	r := testRegistry(t)
	h := r.FindBySection(SectionNVIDIA)[0]
	static := r.FindBySection(SectionBOARDID)[0]

	assert.Len(t, r.Tuples(gva), 2, "underived dynamic descriptors are never applied")

	assert.ErrorIs(t, r.Fill(static, []byte{1}, []byte{2}), ErrNotDynamic)
	assert.ErrorIs(t, r.Fill(h, []byte{1, 2}, []byte{2}), ErrLengthMismatch)
	assert.ErrorIs(t, r.Fill(h, nil, nil), ErrInvalidDescriptor)
	assert.ErrorIs(t, r.Fill(Handle(99), []byte{1}, []byte{2}), ErrInvalidHandle)

	require.NoError(t, r.Fill(h, []byte{0x0F, 0x85}, []byte{0x66, 0x90}))
	assert.ErrorIs(t, r.Fill(h, []byte{0x0F, 0x85}, []byte{0x90, 0x90}), ErrSealed)
	assert.True(t, r.Ready(h))

	tuples := r.Tuples(gva)
	require.Len(t, tuples, 3)
	last := tuples[2]
	assert.Equal(t, SectionNVIDIA, last.Section)
	assert.Equal(t, []byte{0x66, 0x90}, last.Replace)
	assert.Equal(t, 2, last.Length)
	assert.Equal(t, len(last.Find), len(last.Replace))

	hs := r.BeginLoad(gva)
	assert.Len(t, hs, 3)
	assert.False(t, r.Ready(h))
	require.NoError(t, r.Fill(h, []byte{0x0F, 0x84}, []byte{0x66, 0x90}), "a new load unseals")

	assert.Empty(t, r.BeginLoad(other))
	assert.Empty(t, r.Tuples(other))
}

func TestDescriptorCopies(t *testing.T) {
	r := testRegistry(t)
	h := r.FindBySection(SectionBOARDID)[0]
	d, err := r.Descriptor(h)
	require.NoError(t, err)
	d.Replace[0] = 'X'

	again, err := r.Descriptor(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("hwgva-id"), again.Replace)
}

func TestProcessMatches(t *testing.T) {
	assert.True(t, Process{Path: "/a/b", Match: MatchExact}.Matches("/a/b"))
	assert.False(t, Process{Path: "/a/b", Match: MatchExact}.Matches("/a/b/c"))
	assert.True(t, Process{Path: "/a/", Match: MatchPrefix}.Matches("/a/b/c"))
	assert.True(t, Process{Match: MatchAny}.Matches("/anything"))
}

func TestSectionNames(t *testing.T) {
	for _, s := range Sections() {
		got, err := ParseSection(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseSection("bogus")
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	r := testRegistry(t)
	r.Close()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.ModulePaths())
	assert.False(t, r.Active(Handle(0)))
}

func TestHandles(t *testing.T) {
	r := testRegistry(t)
	assert.Len(t, r.Handles(gva), 3)
	assert.Len(t, r.Handles(fps), 2)
	assert.Empty(t, r.Handles(other))
	assert.True(t, r.HasModule(fps))
	assert.Equal(t, []string{gva, fps}, r.ModulePaths())
}
