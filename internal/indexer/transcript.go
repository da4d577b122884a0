package indexer

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DefaultChunkSize is the number of timestamped lines grouped into one
// transcript passage.
const DefaultChunkSize = 3

var timestampLine = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}\.\d+)\s+(.*)`)

// ParseTranscript cuts a timestamped transcript into passages of chunkSize
// lines. The second line of the file carries the episode title and the third
// its video URL, each behind a leading marker character. Lines look like
// "00:01:02.500 some words"; anything else is skipped. A trailing group
// shorter than chunkSize is dropped.
func ParseTranscript(label, text string, chunkSize int) []Source {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	title := label
	if len(lines) > 1 {
		if t := strings.TrimSpace(dropFirstRune(lines[1])); t != "" {
			title = t
		}
	}
	var ref string
	if len(lines) > 2 {
		ref = ExtractVideoID(strings.TrimSpace(dropFirstRune(lines[2])))
	}

	var (
		sources []Source
		chunk   []string
		start   float64
	)
	for _, line := range lines {
		m := timestampLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if len(chunk) == 0 {
			start = timestampSeconds(m[1], m[2], m[3])
		}
		chunk = append(chunk, m[4])
		if len(chunk) == chunkSize {
			sources = append(sources, Source{
				Label:            title,
				Text:             strings.Join(chunk, " "),
				StartTimeSeconds: start,
				ExternalRef:      ref,
			})
			chunk = nil
		}
	}
	return sources
}

// ExtractVideoID pulls the video id out of the URL shapes seen in transcript
// headers: ?v=ID, /watch/ID, youtu.be/ID and /embed/ID. It returns "" when
// none match.
func ExtractVideoID(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if i := strings.LastIndex(u.Path, "/watch/"); i >= 0 {
		return u.Path[i+len("/watch/"):]
	}
	if strings.Contains(u.Hostname(), "youtu.be") {
		return strings.TrimLeft(u.Path, "/")
	}
	if i := strings.LastIndex(u.Path, "/embed/"); i >= 0 {
		return u.Path[i+len("/embed/"):]
	}
	return ""
}

// timestampSeconds truncates to whole seconds.
func timestampSeconds(h, m, s string) float64 {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	secs, _ := strconv.ParseFloat(s, 64)
	return float64(int(float64(hours*3600+minutes*60) + secs))
}

func dropFirstRune(s string) string {
	for i := range s {
		if i > 0 {
			return s[i:]
		}
	}
	return ""
}
