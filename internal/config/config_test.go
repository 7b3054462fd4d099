package config

import (
	"testing"

	"github.com/blacktop/shiki/internal/bootargs"
	"github.com/caarlos0/env/v8"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		args        string
		gva         GVAFlags
		present     bool
		disabledBy  string
		boardID     string
		numWarnings int
	}{
		{"empty", "", 0, false, "", DefaultBoardID, 0},
		{"decimal", "shikigva=40", ReplaceBoardID | AddExecutableWhitelist, true, "", DefaultBoardID, 0},
		{"hex", "shikigva=0x80", NVIDIACompatibility, true, "", DefaultBoardID, 0},
		{"zero_is_present", "shikigva=0", 0, true, "", DefaultBoardID, 0},
		{"malformed", "shikigva=lots", 0, true, "", DefaultBoardID, 1},
		{"out_of_range", "shikigva=0x100000000", 0, true, "", DefaultBoardID, 1},
		{"deprecated_fps", "-shikifps", UnlockFP10Streaming, false, "", DefaultBoardID, 1},
		{"deprecated_both", "-shikigva -shikifps", ForceOnlineRenderer | UnlockFP10Streaming, false, "", DefaultBoardID, 2},
		{"deprecated_overridden", "-shikifps shikigva=2", AllowNonBGRA, true, "", DefaultBoardID, 1},
		{"off", "-shikioff shikigva=1", ForceOnlineRenderer, true, "-shikioff", DefaultBoardID, 0},
		{"recovery", "rp0=/dev/disk1", 0, false, "rp0", DefaultBoardID, 0},
		{"override", "shikigva=32 shiki-id=Mac-7BA5B2D9E42DDD94", ReplaceBoardID, true, "", "Mac-7BA5B2D9E42DDD94", 0},
		{"empty_override", "shikigva=32 shiki-id=", ReplaceBoardID, true, "", DefaultBoardID, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Parse(bootargs.Parse(tt.args))
			assert.Equal(t, tt.gva, o.GVA)
			assert.Equal(t, tt.present, o.GVAPresent)
			assert.Equal(t, tt.disabledBy != "", o.Disabled)
			assert.Equal(t, tt.disabledBy, o.DisabledBy)
			assert.Equal(t, tt.boardID, o.BoardID)
			assert.Len(t, o.Warnings, tt.numWarnings)
		})
	}
}

func TestBoardIDFallback(t *testing.T) {
	o := Parse(bootargs.Parse("shikigva=32"))
	assert.True(t, o.GVA.Has(ReplaceBoardID))
	assert.False(t, o.BoardIDOverridden)
	assert.Equal(t, "Mac-27ADBB7B4CEE8E61", o.BoardID)
}

func TestSwitches(t *testing.T) {
	o := Parse(bootargs.Parse("-shikidbg -shikibeta"))
	assert.True(t, o.Debug)
	assert.True(t, o.Beta)
	assert.False(t, o.Disabled)
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "none", GVAFlags(0).String())
	assert.Equal(t, "ForceOnlineRenderer|NVIDIACompatibility", (ForceOnlineRenderer | NVIDIACompatibility).String())
	assert.Equal(t, "AllowNonBGRA|0x100", GVAFlags(0x102).String())
	assert.Len(t, AllFlags(), 8)
	for i, f := range AllFlags() {
		assert.Equal(t, GVAFlags(1<<i), f)
	}
}

func TestLoadEnv(t *testing.T) {
	e, err := loadEnv(env.Options{Environment: map[string]string{
		"SHIKI_BOOT_ARGS":  "shikigva=16",
		"SHIKI_OS_VERSION": "17.7.0",
		"SHIKI_CPU":        "haswell",
		"SHIKI_COMPANION":  "true",
	}})
	require.NoError(t, err)
	assert.Equal(t, "shikigva=16", e.BootArgs)
	assert.Equal(t, "17.7.0", e.OSVersion)
	assert.Equal(t, "haswell", e.CPU)
	assert.True(t, e.Companion)

	_, err = loadEnv(env.Options{Environment: map[string]string{"SHIKI_COMPANION": "maybe"}})
	assert.Error(t, err)
}

func TestLoadMergesEnvironment(t *testing.T) {
	t.Setenv("SHIKI_BOOT_ARGS", "shikigva=128")
	t.Setenv("SHIKI_CPU", "")
	t.Setenv("SHIKI_DEVICE_TREE", "/tmp/DeviceTree.bin")

	v := viper.New()
	v.Set("boot-args", "shikigva=1")
	v.Set("images", "/a,/b")
	v.Set("output", "out")
	v.Set("facts.os-version", "18.2.0")
	v.Set("facts.cpu", "ivybridge")

	c, err := load(v)
	require.NoError(t, err)
	assert.Equal(t, "shikigva=128", c.BootArgs, "environment wins")
	assert.Equal(t, []string{"/a", "/b"}, c.Images)
	assert.Equal(t, "out", c.Output)
	assert.Equal(t, "/tmp/DeviceTree.bin", c.DeviceTree)
	assert.Equal(t, "18.2.0", c.Facts.OSVersion)
	assert.Equal(t, "ivybridge", c.Facts.CPU)
	assert.Equal(t, NVIDIACompatibility, c.Options().GVA)
}

func TestLoadVerify(t *testing.T) {
	v := viper.New()
	v.Set("facts.ig-platform-id", "nope")
	_, err := load(v)
	assert.Error(t, err)
}
