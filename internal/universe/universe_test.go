package universe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBlendedNormal(t *testing.T) {
	t.Parallel()

	u := New(0, nil)
	u.SetChannelGroup(0, GroupIntensity)

	// HTP on intensity
	require.True(t, u.WriteBlended(0, 100, NormalBlend))
	require.True(t, u.WriteBlended(0, 60, NormalBlend))
	require.Equal(t, uint8(100), u.PreGMValue(0))

	// LTP elsewhere
	require.True(t, u.WriteBlended(1, 100, NormalBlend))
	require.True(t, u.WriteBlended(1, 60, NormalBlend))
	require.Equal(t, uint8(60), u.PreGMValue(1))

	require.Equal(t, 2, u.UsedChannels())
}

func TestClassifyNeverDowngrades(t *testing.T) {
	t.Parallel()

	u := New(0, nil)
	u.Classify(0, GroupNothing)
	require.Equal(t, GroupNothing, u.ChannelGroup(0))

	u.Classify(0, GroupColour)
	require.Equal(t, GroupColour, u.ChannelGroup(0))
	u.Classify(0, GroupNothing)
	require.Equal(t, GroupColour, u.ChannelGroup(0))

	u.Classify(0, GroupIntensity)
	u.Classify(0, GroupNothing)
	u.Classify(0, GroupPan)
	require.Equal(t, GroupIntensity, u.ChannelGroup(0))

	u.Classify(DefaultChannels, GroupIntensity)
	require.Equal(t, GroupNothing, u.ChannelGroup(DefaultChannels))
}

func TestWriteBlendedAdditive(t *testing.T) {
	t.Parallel()

	u := New(0, nil)
	u.WriteBlended(3, 200, AdditiveBlend)
	u.WriteBlended(3, 100, AdditiveBlend)
	require.Equal(t, uint8(255), u.PreGMValue(3))
}

func TestWriteOutOfRange(t *testing.T) {
	t.Parallel()

	u := New(0, nil)
	require.False(t, u.Write(DefaultChannels, 10))
	require.False(t, u.Write(Invalid, 10))
	require.Equal(t, 0, u.UsedChannels())
}

func TestCommitGrandMaster(t *testing.T) {
	t.Parallel()

	gm := NewGrandMaster()
	u := New(0, gm)
	u.SetChannelGroup(0, GroupIntensity)
	u.Write(0, 200)
	u.Write(1, 200)

	gm.setValue(128)
	u.Commit()
	require.Equal(t, uint8(100), u.PostGMValue(0))
	require.Equal(t, uint8(200), u.PostGMValue(1), "non intensity channels are left alone")
	require.True(t, u.HasChanged())

	gm.setChannelMode(AllChannels)
	u.Commit()
	require.Equal(t, uint8(100), u.PostGMValue(1))

	gm.setValueMode(Limit)
	u.Commit()
	require.Equal(t, uint8(128), u.PostGMValue(0))
	require.Equal(t, uint8(128), u.PostGMValue(1))
}

func TestGrandMasterApply(t *testing.T) {
	t.Parallel()

	gm := NewGrandMaster()
	testCases := []struct {
		name  string
		value uint8
		mode  ValueMode
		in    uint8
		want  uint8
	}{
		{"full reduce", 255, Reduce, 77, 77},
		{"half reduce", 128, Reduce, 200, 100},
		{"zero reduce", 0, Reduce, 255, 0},
		{"limit below", 100, Limit, 50, 50},
		{"limit above", 100, Limit, 150, 100},
	}
	for _, tc := range testCases {
		gm.value, gm.valueMode = tc.value, tc.mode
		require.Equal(t, tc.want, gm.Apply(tc.in, GroupIntensity), tc.name)
	}
}

func TestZeroIntensityChannels(t *testing.T) {
	t.Parallel()

	u := New(0, nil)
	u.SetChannelGroup(0, GroupIntensity)
	u.Write(0, 90)
	u.Write(1, 90)
	u.ZeroIntensityChannels()
	require.Equal(t, uint8(0), u.PreGMValue(0))
	require.Equal(t, uint8(90), u.PreGMValue(1))
}

func TestPassthrough(t *testing.T) {
	t.Parallel()

	u := New(0, nil)
	require.True(t, u.setInputValue(4, 120))
	require.False(t, u.setInputValue(4, 120))
	u.Commit()
	require.Equal(t, uint8(0), u.PostGMValue(4))

	u.SetPassthrough(true)
	u.Commit()
	require.Equal(t, uint8(120), u.PostGMValue(4))
	require.Equal(t, 5, u.UsedChannels())
}

func TestSetChannelCount(t *testing.T) {
	t.Parallel()

	u := New(0, nil)
	u.Write(10, 33)
	u.SetChannelCount(8)
	require.Equal(t, 8, u.Channels())
	require.Equal(t, 8, u.UsedChannels())
	require.False(t, u.Write(10, 1))

	u.SetChannelCount(24)
	require.Equal(t, uint8(0), u.PreGMValue(10))
	require.True(t, u.Write(10, 1))
}

func TestReset(t *testing.T) {
	t.Parallel()

	u := New(0, nil)
	u.Write(2, 50)
	u.Commit()
	u.Reset()
	require.Equal(t, uint8(0), u.PostGMValue(2))
	require.Equal(t, []byte{0, 0, 0}, u.PostGMValues())
	require.True(t, u.HasChanged())
}
