package state

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/user/statuskeeper/internal/types"
)

const (
	// MaxComponentLen bounds each sanitized name component, in runes.
	MaxComponentLen = 50
	// MaxComponentBytes bounds each component in encoded bytes, so that a
	// full name stays under the 255 byte limit of common filesystems.
	MaxComponentBytes = 100
	// MaxNameBytes is the longest name DeriveName can produce.
	MaxNameBytes = 255
	// EventIDPrefixLen is the number of event id characters kept in a name.
	EventIDPrefixLen = 8

	unknownSender = "unknown"
)

const hostileChars = `<>:"/\|?*`

// Sanitize makes s safe to use as one filename component: filesystem
// reserved characters and control characters are dropped, whitespace runs
// become a single underscore, leading dots and edge underscores are trimmed
// and the result is cut to MaxComponentLen runes and MaxComponentBytes
// bytes, never splitting a rune.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == utf8.RuneError:
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r), strings.ContainsRune(hostileChars, r):
			continue
		}
		if space {
			b.WriteByte('_')
			space = false
		}
		b.WriteRune(r)
	}

	out := strings.TrimLeft(b.String(), "._")
	out = truncateRunes(out, MaxComponentLen)
	out = truncateBytes(out, MaxComponentBytes)
	return strings.Trim(out, "_")
}

// DeriveName returns the artifact filename for an event. It is a pure
// function of its inputs. The caption component is only used for media and
// is omitted when it sanitizes to nothing.
func DeriveName(sender, eventID, caption string, kind types.Kind) string {
	s := Sanitize(sender)
	if s == "" {
		s = unknownSender
	}
	parts := []string{s, eventIDPrefix(eventID)}

	ext := ".txt"
	if kind != types.KindText {
		ext = ".jpg"
		if c := Sanitize(caption); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "_") + ext
}

func eventIDPrefix(eventID string) string {
	p := truncateRunes(Sanitize(eventID), EventIDPrefixLen)
	if p == "" {
		return "noid"
	}
	return p
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
