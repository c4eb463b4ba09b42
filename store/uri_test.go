package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStableURI(t *testing.T) {
	testCases := []struct {
		upstream string
		expected string
	}{
		{"media_w1234_5.ts", "/media_w1234_5.ts"},
		{"./media_w1234_5.aac", "/media_w1234_5.ts"},
		{"../media/seg_00001.mp4", "/media/seg_00001.ts"},
		{"./../seg.ts", "/seg.ts"},
		{"/already/rooted/seg.ts", "/already/rooted/seg.ts"},
		{"noextension", "/noextension.ts"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, StableURI(tc.upstream))
	}
}

func TestStableURIIsIdempotent(t *testing.T) {
	for _, uri := range []string{"./a/b.aac", "../x.mp4", "seg.ts", "/seg.ts"} {
		once := StableURI(uri)
		require.Equal(t, once, StableURI(once))
	}
}

func TestSidecarURI(t *testing.T) {
	require.Equal(t, "/seg_1.vtt", SidecarURI("/seg_1.ts", SidecarSingle))
	require.Equal(t, "/seg_1.orig.vtt", SidecarURI("/seg_1.ts", SidecarOriginal))
	require.Equal(t, "/seg_1.trans.vtt", SidecarURI("/seg_1.ts", SidecarTranslated))
}
