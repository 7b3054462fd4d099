package kernel

import (
	"testing"

	semver "github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Version
		wantErr bool
	}{
		{name: "full", in: "17.7.0", want: Version{17, 7, 0}},
		{name: "major_minor", in: "16.1", want: Version{16, 1, 0}},
		{name: "major", in: "18", want: Version{18, 0, 0}},
		{name: "garbage", in: "sierra", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBanner(t *testing.T) {
	v, err := ParseBanner("Darwin Kernel Version 16.7.0: Thu Jun 15 17:36:27 PDT 2017; root:xnu-3789.70.16~2/RELEASE_X86_64")
	require.NoError(t, err)
	assert.Equal(t, Version{16, 7, 0}, v)
	assert.Equal(t, "Sierra", v.Name())

	_, err = ParseBanner("Linux version 6.1.0")
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestCompareAndSatisfies(t *testing.T) {
	assert.Equal(t, -1, Version{17, 4, 0}.Compare(Version{17, 5, 0}))
	assert.Equal(t, 0, Version{17, 5, 0}.Compare(Version{17, 5, 0}))
	assert.Equal(t, 1, Version{18, 0, 0}.Compare(Version{17, 7, 0}))

	c, err := semver.NewConstraint(">= 17.5.0, < 19.0.0")
	require.NoError(t, err)
	assert.True(t, Version{17, 5, 0}.Satisfies(c))
	assert.True(t, Version{18, 2, 0}.Satisfies(c))
	assert.False(t, Version{17, 4, 0}.Satisfies(c))
	assert.False(t, Version{}.Satisfies(c))
}
