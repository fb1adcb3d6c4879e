// Package ladder defines the rendition ladders produced for short-form video
// and the storage-footprint estimation used by capacity admission control.
package ladder

import (
	"fmt"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// AudioBitrateKbps is the fixed AAC audio bitrate used for every rendition.
const AudioBitrateKbps = 128

// estimateHeadroom pads the bitrate-sum estimate to absorb encoder overshoot
// and playlist/container overhead.
const estimateHeadroom = 1.10

// Rendition is a single quality variant of the adaptive ladder.
type Rendition struct {
	Name             string
	Height           int
	VideoBitrateKbps int
}

// Bandwidth returns the approximate total bandwidth in bits per second, as
// declared in the master playlist.
func (r Rendition) Bandwidth() int {
	return (r.VideoBitrateKbps + AudioBitrateKbps) * 1000
}

// PlaylistName returns the rendition sub-playlist filename.
func (r Rendition) PlaylistName() string {
	return fmt.Sprintf("%s.m3u8", r.Name)
}

var (
	rendition480  = Rendition{Name: "480p", Height: 480, VideoBitrateKbps: 700}
	rendition720  = Rendition{Name: "720p", Height: 720, VideoBitrateKbps: 1500}
	rendition1080 = Rendition{Name: "1080p", Height: 1080, VideoBitrateKbps: 3000}
)

// Selection is the resolved ladder for one job, after any profile downgrade.
type Selection struct {
	Profile    string
	Renditions []Rendition
	Downgraded bool
}

// Select resolves a requested profile and content class to the ladder that
// will actually be produced. The premium 1080p tier is reserved for preferred
// and pinned content; other classes are silently downgraded to shorts_v1
// rather than failed. Unknown profiles resolve to shorts_v1.
func Select(profile, contentClass string) Selection {
	switch profile {
	case shorts.ProfileShortsPremium:
		if shorts.PriorityClass(contentClass) {
			return Selection{
				Profile:    shorts.ProfileShortsPremium,
				Renditions: []Rendition{rendition480, rendition720, rendition1080},
			}
		}
		return Selection{
			Profile:    shorts.ProfileShortsV1,
			Renditions: []Rendition{rendition480, rendition720},
			Downgraded: true,
		}
	default:
		return Selection{
			Profile:    shorts.ProfileShortsV1,
			Renditions: []Rendition{rendition480, rendition720},
		}
	}
}

// EstimateBytes projects the on-disk footprint of the ladder for a source of
// the given duration: per-rendition (video + audio) bitrate times duration,
// plus headroom. A zero or unknown duration yields zero, deferring admission
// until the duration has been probed.
func EstimateBytes(sel Selection, durationSeconds float64) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	var totalKbps int64
	for _, r := range sel.Renditions {
		totalKbps += int64(r.VideoBitrateKbps + AudioBitrateKbps)
	}
	bits := float64(totalKbps*1000) * durationSeconds
	return int64(bits / 8 * estimateHeadroom)
}

// Estimator projects a job's storage footprint from its resolved ladder and
// probed duration. Capacity admission takes one of these so that deployments
// can swap the heuristic without touching the gate.
type Estimator func(sel Selection, durationSeconds float64) int64
