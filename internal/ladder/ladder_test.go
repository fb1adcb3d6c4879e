package ladder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name           string
		profile        string
		contentClass   string
		wantProfile    string
		wantHeights    []int
		wantDowngraded bool
	}{
		{
			name:         "standard profile normal class",
			profile:      shorts.ProfileShortsV1,
			contentClass: shorts.ClassNormal,
			wantProfile:  shorts.ProfileShortsV1,
			wantHeights:  []int{480, 720},
		},
		{
			name:         "premium profile preferred class",
			profile:      shorts.ProfileShortsPremium,
			contentClass: shorts.ClassPreferred,
			wantProfile:  shorts.ProfileShortsPremium,
			wantHeights:  []int{480, 720, 1080},
		},
		{
			name:         "premium profile pinned class",
			profile:      shorts.ProfileShortsPremium,
			contentClass: shorts.ClassPinned,
			wantProfile:  shorts.ProfileShortsPremium,
			wantHeights:  []int{480, 720, 1080},
		},
		{
			name:           "premium profile normal class downgrades",
			profile:        shorts.ProfileShortsPremium,
			contentClass:   shorts.ClassNormal,
			wantProfile:    shorts.ProfileShortsV1,
			wantHeights:    []int{480, 720},
			wantDowngraded: true,
		},
		{
			name:           "premium profile ephemeral class downgrades",
			profile:        shorts.ProfileShortsPremium,
			contentClass:   shorts.ClassEphemeral,
			wantProfile:    shorts.ProfileShortsV1,
			wantHeights:    []int{480, 720},
			wantDowngraded: true,
		},
		{
			name:         "unknown profile falls back to standard",
			profile:      "hevc_experimental",
			contentClass: shorts.ClassPinned,
			wantProfile:  shorts.ProfileShortsV1,
			wantHeights:  []int{480, 720},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Select(tt.profile, tt.contentClass)

			assert.Equal(t, tt.wantProfile, sel.Profile)
			assert.Equal(t, tt.wantDowngraded, sel.Downgraded)

			heights := make([]int, len(sel.Renditions))
			for i, r := range sel.Renditions {
				heights[i] = r.Height
			}
			assert.Equal(t, tt.wantHeights, heights)
		})
	}
}

func TestRendition_Bandwidth(t *testing.T) {
	assert.Equal(t, 828000, rendition480.Bandwidth())
	assert.Equal(t, 1628000, rendition720.Bandwidth())
	assert.Equal(t, 3128000, rendition1080.Bandwidth())
}

func TestEstimateBytes(t *testing.T) {
	standard := Select(shorts.ProfileShortsV1, shorts.ClassNormal)
	premium := Select(shorts.ProfileShortsPremium, shorts.ClassPinned)

	tests := []struct {
		name     string
		sel      Selection
		duration float64
		want     int64
	}{
		{
			// (700+128 + 1500+128) kbps = 2456 kbps over 60s
			// 2456000 * 60 / 8 * 1.10
			name:     "standard ladder one minute",
			sel:      standard,
			duration: 60,
			want:     int64(2456000.0 * 60 / 8 * 1.10),
		},
		{
			// adds (3000+128) kbps for the 1080p tier
			name:     "premium ladder one minute",
			sel:      premium,
			duration: 60,
			want:     int64(5584000.0 * 60 / 8 * 1.10),
		},
		{
			name:     "zero duration defers estimation",
			sel:      standard,
			duration: 0,
			want:     0,
		},
		{
			name:     "negative duration defers estimation",
			sel:      standard,
			duration: -4,
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateBytes(tt.sel, tt.duration))
		})
	}
}

func TestMasterPlaylist(t *testing.T) {
	sel := Select(shorts.ProfileShortsPremium, shorts.ClassPreferred)
	playlist := MasterPlaylist(sel)

	assert.Contains(t, playlist, "#EXTM3U\n")
	assert.Contains(t, playlist, "#EXT-X-VERSION:3\n")
	assert.Contains(t, playlist, "#EXT-X-STREAM-INF:BANDWIDTH=828000,RESOLUTION=854x480\n480p.m3u8\n")
	assert.Contains(t, playlist, "#EXT-X-STREAM-INF:BANDWIDTH=1628000,RESOLUTION=1280x720\n720p.m3u8\n")
	assert.Contains(t, playlist, "#EXT-X-STREAM-INF:BANDWIDTH=3128000,RESOLUTION=1920x1080\n1080p.m3u8\n")
}
