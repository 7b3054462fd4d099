package bootargs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	a := Parse(`-v  shikigva=0x20 shiki-id="Mac-7BA5B2D9E42DDD94" -shikidbg shikigva=4`)

	assert.True(t, a.Has("-v"))
	assert.True(t, a.Has("-shikidbg"))
	assert.False(t, a.Has("-shikioff"))

	v, ok := a.Value("shikigva")
	assert.True(t, ok)
	assert.Equal(t, "0x20", v, "first occurrence wins")

	v, ok = a.Value("shiki-id")
	assert.True(t, ok)
	assert.Equal(t, "Mac-7BA5B2D9E42DDD94", v)

	v, ok = a.Value("-v")
	assert.True(t, ok)
	assert.Empty(t, v)

	assert.Equal(t, []string{"-v", "shikigva", "shiki-id", "-shikidbg"}, a.Keys())
	assert.Equal(t, "-v shikigva=0x20 shiki-id=Mac-7BA5B2D9E42DDD94 -shikidbg", a.String())
}

func TestFirst(t *testing.T) {
	a := Parse("keepsyms=1 rp0=/dev/disk2s1")
	name, ok := a.First("-shikioff", "rp0", "rp")
	assert.True(t, ok)
	assert.Equal(t, "rp0", name)

	_, ok = Parse("").First("-shikioff")
	assert.False(t, ok)
}

func TestQuotedSpaces(t *testing.T) {
	a := Parse(`name="a b" -x`)
	v, _ := a.Value("name")
	assert.Equal(t, "a b", v)
	assert.True(t, a.Has("-x"))
}
