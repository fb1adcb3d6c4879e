package ladder

import (
	"fmt"
	"strings"
)

// MasterPlaylist renders the HLS master playlist referencing each rendition's
// sub-playlist with its declared bandwidth and resolution hint. Renditions are
// listed in the ladder's declared (ascending) order.
func MasterPlaylist(sel Selection) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range sel.Renditions {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", r.Bandwidth(), resolutionHint(r.Height))
		b.WriteString(r.PlaylistName())
		b.WriteByte('\n')
	}
	return b.String()
}

// resolutionHint maps target height to a 16:9 resolution attribute. The
// encoder preserves the source aspect ratio; this is only the playlist hint.
func resolutionHint(height int) string {
	width := height * 16 / 9
	// keep encoder-friendly even dimensions
	if width%2 != 0 {
		width++
	}
	return fmt.Sprintf("%dx%d", width, height)
}
