package environment

import (
	"testing"

	"github.com/blacktop/shiki/pkg/cpu"
	"github.com/blacktop/shiki/pkg/devicetree"
	"github.com/blacktop/shiki/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	s := &Static{OS: kernel.Version{Major: 17, Minor: 7}, CPU: cpu.Haswell, PlatformID: 0x0D220003}
	v, err := s.OSVersion()
	require.NoError(t, err)
	assert.Equal(t, kernel.HighSierra, v.Major)
	g, err := s.CPUGeneration()
	require.NoError(t, err)
	assert.Equal(t, cpu.Haswell, g)
	id, ok := s.GPUPlatformID()
	assert.True(t, ok)
	assert.Equal(t, uint32(0x0D220003), id)

	var empty Static
	_, err = empty.OSVersion()
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = empty.CPUGeneration()
	assert.ErrorIs(t, err, ErrUnavailable)
	_, ok = empty.GPUPlatformID()
	assert.False(t, ok, "zero platform-id is invalid")

	off := &Static{PlatformID: 0x0D220003, NoAutodetect: true}
	_, ok = off.GPUPlatformID()
	assert.False(t, ok)
	assert.False(t, off.Autodetect())
}

func TestValidPlatformID(t *testing.T) {
	assert.False(t, ValidPlatformID(0))
	assert.False(t, ValidPlatformID(0xFFFFFFFF))
	assert.True(t, ValidPlatformID(0x59120000))
}

func TestSystem(t *testing.T) {
	props := devicetree.NewStore()
	require.NoError(t, props.SetProperty("/PCI0@0/IGPU@2", devicetree.PlatformIDKey, []byte{0x00, 0x00, 0x12, 0x59}))

	s := &System{Release: "18.7.0", CPU: cpu.KabyLake, Properties: props}
	v, err := s.OSVersion()
	require.NoError(t, err)
	assert.Equal(t, "Mojave", v.Name())
	g, err := s.CPUGeneration()
	require.NoError(t, err)
	assert.Equal(t, cpu.KabyLake, g)
	id, ok := s.GPUPlatformID()
	assert.True(t, ok)
	assert.Equal(t, uint32(0x59120000), id)
	assert.True(t, s.Autodetect())

	bare := &System{Release: "not-a-version"}
	_, err = bare.OSVersion()
	assert.ErrorIs(t, err, kernel.ErrInvalidVersion)
	_, ok = bare.GPUPlatformID()
	assert.False(t, ok)
	assert.False(t, bare.Autodetect())
}

func TestSystemBannerAndImportedTree(t *testing.T) {
	props := devicetree.NewStore()
	require.NoError(t, props.SetProperty("/PCI0@0/VID@2", devicetree.PlatformIDKey, []byte{0x03, 0x00, 0x22, 0x0D}))

	s := &System{
		Release:    "Darwin Kernel Version 17.7.0: Thu Jun 21 22:53:14 PDT 2018; root:xnu-4570.71.2~1/RELEASE_X86_64",
		Properties: props,
	}
	v, err := s.OSVersion()
	require.NoError(t, err)
	assert.Equal(t, kernel.Version{Major: 17, Minor: 7}, v)

	id, ok := s.GPUPlatformID()
	assert.True(t, ok, "platform-id is found outside the usual IGPU nodes")
	assert.Equal(t, uint32(0x0D220003), id)

	require.NoError(t, props.SetProperty(IGPUNodes[0], devicetree.PlatformIDKey, []byte{0xFF, 0xFF, 0xFF, 0xFF}))
	_, ok = s.GPUPlatformID()
	assert.False(t, ok, "the usual IGPU node wins")
}
