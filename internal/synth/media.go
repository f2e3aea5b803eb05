package synth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/TobiSchelling/TrendDrop/internal/database"
)

const (
	minVideos = 1
	maxVideos = 5
)

var (
	titleAdjectives = []string{"Amazing", "Unbelievable", "Must-Have", "Trending", "Viral", "Best"}
	titleFormats    = []string{"Unboxing", "Review", "Try-On", "Haul", "Test", "Demo"}
)

var videoURLPrefix = map[string]string{
	"TikTok":    "https://www.tiktok.com/@trenddrop/video/",
	"Instagram": "https://www.instagram.com/p/",
	"YouTube":   "https://www.youtube.com/watch?v=",
	"Facebook":  "https://www.facebook.com/watch/?v=",
	"Pinterest": "https://www.pinterest.com/pin/",
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Videos returns 1-5 media records for a product. The first is the most
// recent; views grow with age. When no platform is usable a single
// deterministic record is returned instead.
func (s *Synthesizer) Videos(productName string) []database.Video {
	if len(s.platforms) == 0 || strings.TrimSpace(productName) == "" {
		return []database.Video{s.DefaultVideo(productName)}
	}

	n := s.between(minVideos, maxVideos)
	videos := make([]database.Video, 0, n)
	for i := 0; i < n; i++ {
		platform := s.platforms[s.rnd.Intn(len(s.platforms))]
		prefix, ok := videoURLPrefix[platform]
		if !ok {
			continue
		}

		var age int
		if i == 0 {
			age = s.between(1, 14)
		} else {
			age = s.between(15, 60)
		}
		// Older posts have had longer to accumulate views.
		views := int64(s.between(1_000, 50_000)) * int64(10+age) / 10

		videos = append(videos, database.Video{
			Title:        fmt.Sprintf("%s %s %s", pickString(s, titleAdjectives), productName, pickString(s, titleFormats)),
			Platform:     platform,
			Views:        views,
			UploadDate:   s.now().UTC().AddDate(0, 0, -age).Format("2006-01-02"),
			ThumbnailURL: fmt.Sprintf("https://picsum.photos/id/%d/320/180", s.between(1, 1000)),
			VideoURL:     prefix + s.videoID(),
		})
	}
	if len(videos) == 0 {
		return []database.Video{s.DefaultVideo(productName)}
	}
	return videos
}

// DefaultVideo is the fallback record: a YouTube search for the product.
func (s *Synthesizer) DefaultVideo(productName string) database.Video {
	name := strings.TrimSpace(productName)
	if name == "" {
		name = "Trending Product"
	}
	return database.Video{
		Title:        name + " Review",
		Platform:     "YouTube",
		Views:        1_000,
		UploadDate:   s.now().UTC().AddDate(0, 0, -1).Format("2006-01-02"),
		ThumbnailURL: "https://picsum.photos/id/1/320/180",
		VideoURL:     "https://www.youtube.com/results?search_query=" + url.QueryEscape(name),
	}
}

func (s *Synthesizer) videoID() string {
	b := make([]byte, 11)
	for i := range b {
		b[i] = idAlphabet[s.rnd.Intn(len(idAlphabet))]
	}
	return string(b)
}

func pickString(s *Synthesizer, from []string) string {
	return from[s.rnd.Intn(len(from))]
}
