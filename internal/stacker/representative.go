package stacker

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/photostacks/photostacks/internal/database"
)

// SelectRepresentative picks the photo that fronts a stack. Ordering:
// highest resolution, then largest file, then earliest capture time
// (unknown capture time sorts last), then camera shots over screenshots,
// then lowest ID. The full chain is total, so the pick is deterministic.
func SelectRepresentative(photos []*database.Photo) *database.Photo {
	if len(photos) == 0 {
		return nil
	}

	ranked := append([]*database.Photo(nil), photos...)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]

		if ra, rb := a.Resolution(), b.Resolution(); ra != rb {
			return ra > rb
		}
		if a.Size != b.Size {
			return a.Size > b.Size
		}
		if ta, tb := a.TakenAt, b.TakenAt; ta != nil || tb != nil {
			switch {
			case ta == nil:
				return false
			case tb == nil:
				return true
			case !ta.Equal(*tb):
				return ta.Before(*tb)
			}
		}
		if sa, sb := isScreenshotPath(a.Path), isScreenshotPath(b.Path); sa != sb {
			return !sa
		}
		return a.ID < b.ID
	})

	return ranked[0]
}

// isScreenshotPath heuristically detects screen captures from the file path.
// Paths are folded first so "Snímek obrazovky" and "Screenshot" compare the
// same way regardless of diacritics.
func isScreenshotPath(path string) bool {
	folded := strings.ToLower(foldDiacritics(path))
	for _, marker := range []string{"screenshot", "screen shot", "screen_shot", "snimek obrazovky", "capture d'ecran"} {
		if strings.Contains(folded, marker) {
			return true
		}
	}
	return false
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}
