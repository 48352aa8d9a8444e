package media_test

import (
	"net/url"
	"strconv"
	"testing"

	"github.com/illmade-knight/go-assetedge/pkg/connection"
	"github.com/illmade-knight/go-assetedge/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLBuilder_PublicURL(t *testing.T) {
	b, err := media.NewURLBuilder(testBase+"/", testBucket, 2)
	require.NoError(t, err)

	assert.Equal(t, testBase+"/media/", b.Prefix())
	assert.Equal(t, testBase+"/media/avatars/ana/1.png", b.PublicURL("avatars/ana/1.png", nil))
	assert.Equal(t, testBase+"/media/avatars/ana%20maria/1.png", b.PublicURL("/avatars/ana maria/1.png", nil))
	assert.Equal(t,
		testBase+"/media/g/1.jpg?format=webp&height=300&quality=70&width=640",
		b.PublicURL("g/1.jpg", &media.Transform{Width: 640, Height: 300, Quality: 70, Format: media.FormatWebP}),
	)
	assert.Equal(t, testBase+"/media/g/1.jpg", b.PublicURL("g/1.jpg", &media.Transform{}), "an empty transform adds no query")

	first := b.PublicURL("g/2.jpg", &media.Transform{Quality: 85})
	assert.Equal(t, first, b.PublicURL("g/2.jpg", &media.Transform{Quality: 85}))
	b.Clear()
	assert.Equal(t, first, b.PublicURL("g/2.jpg", &media.Transform{Quality: 85}), "derivation is deterministic")

	_, err = media.NewURLBuilder("", testBucket, 0)
	assert.Error(t, err)
	_, err = media.NewURLBuilder(testBase, "", 0)
	assert.Error(t, err)
}

func TestPlanTransform(t *testing.T) {
	network := func(info connection.NetworkInfo) connection.Fixed {
		return connection.Fixed{Info: &info}
	}

	testCases := []struct {
		name string
		caps connection.Capabilities
		opts media.ResolveOptions
		want media.Transform
	}{
		{
			name: "no signal is full quality without cap",
			caps: connection.Fixed{},
			opts: media.ResolveOptions{TargetWidth: 2400},
			want: media.Transform{Quality: 85, Width: 2400, Format: media.FormatWebP},
		},
		{
			name: "nil capabilities",
			caps: nil,
			want: media.Transform{Quality: 85, Format: media.FormatWebP},
		},
		{
			name: "2g caps width at 800",
			caps: network(connection.NetworkInfo{EffectiveType: connection.EffectiveType2G}),
			opts: media.ResolveOptions{TargetWidth: 1600},
			want: media.Transform{Quality: 50, Width: 800, Format: media.FormatWebP},
		},
		{
			name: "slow-2g without target uses the cap",
			caps: network(connection.NetworkInfo{EffectiveType: connection.EffectiveTypeSlow2G}),
			want: media.Transform{Quality: 50, Width: 800, Format: media.FormatWebP},
		},
		{
			name: "save-data keeps a smaller target",
			caps: network(connection.NetworkInfo{EffectiveType: connection.EffectiveType4G, SaveData: true}),
			opts: media.ResolveOptions{TargetWidth: 400},
			want: media.Transform{Quality: 50, Width: 400, Format: media.FormatWebP},
		},
		{
			name: "3g caps width at 1200",
			caps: network(connection.NetworkInfo{EffectiveType: connection.EffectiveType3G, Downlink: 10}),
			opts: media.ResolveOptions{TargetWidth: 1920},
			want: media.Transform{Quality: 70, Width: 1200, Format: media.FormatWebP},
		},
		{
			name: "4g with low downlink is moderate",
			caps: network(connection.NetworkInfo{EffectiveType: connection.EffectiveType4G, Downlink: 2.5}),
			want: media.Transform{Quality: 70, Width: 1200, Format: media.FormatWebP},
		},
		{
			name: "fast 4g is full quality",
			caps: network(connection.NetworkInfo{EffectiveType: connection.EffectiveType4G, Downlink: 20}),
			opts: media.ResolveOptions{TargetWidth: 1920},
			want: media.Transform{Quality: 85, Width: 1920, Format: media.FormatWebP},
		},
		{
			name: "unsupported webp falls back to jpeg",
			caps: connection.Fixed{NoWebP: true},
			want: media.Transform{Quality: 85, Format: media.FormatJPEG},
		},
		{
			name: "caller opt-out of webp",
			caps: connection.Fixed{},
			opts: media.ResolveOptions{DisableWebP: true},
			want: media.Transform{Quality: 85, Format: media.FormatJPEG},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, media.PlanTransform(tc.caps, tc.opts))
		})
	}
}

func TestOptimizer_ResolveURL(t *testing.T) {
	optimizer := media.NewOptimizer(newURLBuilder(t))
	a := asset("g1", media.TypeImage, media.CategoryGallery, "gallery/1.jpg")

	t.Run("2g yields quality 50 and width at most 800", func(t *testing.T) {
		caps := connection.Fixed{Info: &connection.NetworkInfo{EffectiveType: connection.EffectiveType2G}}

		raw := optimizer.ResolveURL(a, caps, media.ResolveOptions{TargetWidth: 1280})

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "50", u.Query().Get("quality"))
		width, err := strconv.Atoi(u.Query().Get("width"))
		require.NoError(t, err)
		assert.LessOrEqual(t, width, 800)
	})

	t.Run("Client hints drive the rendition", func(t *testing.T) {
		caps := connection.FromHeaders(map[string][]string{
			"Ect":      {"3g"},
			"Downlink": {"1.2"},
			"Accept":   {"image/avif,image/webp,*/*"},
		})

		raw := optimizer.ResolveURL(a, caps, media.ResolveOptions{})

		assert.Equal(t, testBase+"/media/gallery/1.jpg?format=webp&quality=70&width=1200", raw)
	})

	t.Run("Identical inputs give identical URLs", func(t *testing.T) {
		caps := connection.Fixed{}
		assert.Equal(t,
			optimizer.ResolveURL(a, caps, media.ResolveOptions{TargetWidth: 640}),
			optimizer.ResolveURL(a, caps, media.ResolveOptions{TargetWidth: 640}),
		)
	})
}

func TestQueryOptions_Key(t *testing.T) {
	a := media.QueryOptions{Category: media.CategoryAvatar, AvatarName: "ana", Type: media.TypeImage}
	b := media.QueryOptions{Type: media.TypeImage, AvatarName: "ana", Category: media.CategoryAvatar}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), media.QueryOptions{}.Key())
	assert.Equal(t, "{}", media.QueryOptions{}.Key())
}
