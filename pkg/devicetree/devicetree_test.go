package devicetree

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prop struct {
	key string
	val []byte
}

func writeNode(t *testing.T, buf *bytes.Buffer, props []prop, children int) {
	t.Helper()
	require.NoError(t, binary.Write(buf, binary.LittleEndian, node{NumProperties: uint32(len(props)), NumChildren: uint32(children)}))
	for _, p := range props {
		var np nodeProperty
		copy(np.Name[:], p.key)
		np.Length = uint32(len(p.val))
		require.NoError(t, binary.Write(buf, binary.LittleEndian, np))
		buf.Write(p.val)
		if pad := len(p.val) % 4; pad != 0 {
			buf.Write(make([]byte, 4-pad))
		}
	}
}

func TestParseFlattened(t *testing.T) {
	var buf bytes.Buffer
	writeNode(t, &buf, []prop{{"name", []byte("device-tree\x00")}, {"compatible", []byte("Mac-27ADBB7B4CEE8E61\x00")}}, 1)
	writeNode(t, &buf, []prop{{"name", []byte("PCI0@0\x00")}}, 1)
	writeNode(t, &buf, []prop{{"name", []byte("IGPU@2\x00")}, {PlatformIDKey, []byte{0x03, 0x00, 0x22, 0x0D}}, {"odd", []byte{1, 2, 3}}}, 0)

	s, err := Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/PCI0@0", "/PCI0@0/IGPU@2"}, s.Nodes())

	id, ok := s.GetProperty("/PCI0@0/IGPU@2", PlatformIDKey)
	require.True(t, ok)
	assert.Equal(t, uint32(0x0D220003), binary.LittleEndian.Uint32(id))

	odd, ok := s.GetProperty("PCI0@0/IGPU@2", "odd")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, odd, "padding is stripped")

	n, _, ok := s.Find(PlatformIDKey)
	assert.True(t, ok)
	assert.Equal(t, "/PCI0@0/IGPU@2", n)

	_, err = Parse(bytes.NewReader([]byte{1, 0, 0}))
	assert.Error(t, err)
}

func TestSetProperty(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetProperty(RootPath, "hwgva-id", []byte("Mac-27ADBB7B4CEE8E61\x00")))
	v, ok := s.GetProperty("/", "hwgva-id")
	require.True(t, ok)
	assert.Equal(t, []byte("Mac-27ADBB7B4CEE8E61\x00"), v)

	v[0] = 'X'
	again, _ := s.GetProperty("/", "hwgva-id")
	assert.Equal(t, byte('M'), again[0], "values are copied")

	assert.ErrorIs(t, s.SetProperty(RootPath, "", nil), ErrInvalidProperty)
	assert.ErrorIs(t, s.SetProperty(RootPath, "a-property-name-that-is-far-too-long", nil), ErrInvalidProperty)

	s.SetReadOnly(true)
	assert.ErrorIs(t, s.SetProperty(RootPath, "hwgva-id", []byte("x")), ErrReadOnly)

	_, ok = s.GetProperty("/", "missing")
	assert.False(t, ok)
}

func TestPersistence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ioreg.plist")

	s, err := Open(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"/"}, s.Nodes())
	require.NoError(t, s.SetProperty("/PCI0@0/IGPU@2", PlatformIDKey, []byte{0x04, 0x00, 0x12, 0x04}))

	reopened, err := Open(file)
	require.NoError(t, err)
	id, ok := reopened.GetProperty("/PCI0@0/IGPU@2", PlatformIDKey)
	require.True(t, ok)
	assert.Equal(t, []byte{0x04, 0x00, 0x12, 0x04}, id)
	assert.Equal(t, []string{PlatformIDKey}, reopened.Keys("/PCI0@0/IGPU@2"))
}

func TestImport(t *testing.T) {
	var buf bytes.Buffer
	writeNode(t, &buf, []prop{{"name", []byte("device-tree\x00")}}, 1)
	writeNode(t, &buf, []prop{{"name", []byte("VID@2\x00")}, {PlatformIDKey, []byte{0x00, 0x00, 0x12, 0x59}}}, 0)
	fdt, err := Parse(&buf)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "ioreg.plist")
	s, err := Open(file)
	require.NoError(t, err)
	require.NoError(t, s.SetProperty(RootPath, "hwgva-id", []byte("Mac-27ADBB7B4CEE8E61\x00")))
	require.NoError(t, s.Import(fdt))

	reopened, err := Open(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/VID@2"}, reopened.Nodes())
	_, ok := reopened.GetProperty(RootPath, "hwgva-id")
	assert.True(t, ok, "existing properties are kept")
	v, ok := reopened.GetProperty("/VID@2", PlatformIDKey)
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x00, 0x12, 0x59}, v)

	ro := NewStore()
	ro.SetReadOnly(true)
	assert.ErrorIs(t, ro.Import(fdt), ErrReadOnly)
}
