// Package manifest produces HLS playlists from encode variant descriptors.
// Everything here is pure: fixed input yields byte-identical output, with
// no clock, randomness, or I/O.
package manifest

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Variant describes one completed rendition for playlist generation.
type Variant struct {
	Quality          string
	Width            int
	Height           int
	VideoBitrateKbps int
	AudioBitrateKbps int
	SegmentCount     int
	SegmentSeconds   float64
}

// PlaylistName is the per-variant media playlist file name.
const PlaylistName = "playlist.m3u8"

// MasterName is the master playlist file name.
const MasterName = "master.m3u8"

// Bandwidth returns the total stream bandwidth in bits per second.
func (v Variant) Bandwidth() int {
	return (v.VideoBitrateKbps + v.AudioBitrateKbps) * 1000
}

// PlaylistPath returns the variant playlist path relative to the master.
func (v Variant) PlaylistPath() string {
	return v.Quality + "/" + PlaylistName
}

// SegmentName returns the zero-based nth segment file name.
func SegmentName(index int) string {
	return fmt.Sprintf("segment_%03d.ts", index)
}

// Master renders the master playlist listing all variants ordered by
// descending video bitrate. The input slice is not mutated.
func Master(variants []Variant) string {
	ordered := make([]Variant, len(variants))
	copy(ordered, variants)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].VideoBitrateKbps != ordered[j].VideoBitrateKbps {
			return ordered[i].VideoBitrateKbps > ordered[j].VideoBitrateKbps
		}
		return ordered[i].Quality < ordered[j].Quality
	})

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, variant := range ordered {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%q\n",
			variant.Bandwidth(), variant.Width, variant.Height, variant.Quality)
		b.WriteString(variant.PlaylistPath())
		b.WriteString("\n")
	}
	return b.String()
}

// Media renders one variant's media playlist: target duration, zero-based
// media sequence, VOD type, one duration+path pair per segment, end marker.
func Media(variant Variant) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(variant.SegmentSeconds)))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i := 0; i < variant.SegmentCount; i++ {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", variant.SegmentSeconds)
		b.WriteString(SegmentName(i))
		b.WriteString("\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
