package instagram

import "strings"

// linkTag pairs a substring marker with its classification tag. Order is the
// priority order: the first marker found in the URL wins.
type linkTag struct {
	marker string
	tag    string
}

var linkTags = []linkTag{
	{"onlyfans", "onlyfans"},
	{"linktr.ee", "linktree"},
	{"linktree", "linktree"},
	{"allmylinks", "allmylinks"},
	{"beacons.ai", "beacons"},
	{"beacons", "beacons"},
	{"bio.link", "biolink"},
	{"biolink", "biolink"},
	{"fansly", "fansly"},
	{"mym.fans", "mym"},
	{"mym", "mym"},
	{"patreon", "patreon"},
	{"cash.app", "cashapp"},
	{"cashapp", "cashapp"},
	{"paypal", "paypal"},
	{"twitter.com", "twitter"},
	{"x.com", "twitter"},
	{"youtube", "youtube"},
	{"youtu.be", "youtube"},
	{"tiktok", "tiktok"},
	{"snapchat", "snapchat"},
	{"telegram", "telegram"},
	{"t.me", "telegram"},
	{"discord", "discord"},
}

// ClassifyExternalURL tags a profile's external URL by case-insensitive
// substring matching in fixed priority order. Unmatched URLs with a dot are
// assumed to be a personal site.
func ClassifyExternalURL(rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return ""
	}
	lower := strings.ToLower(rawURL)
	for _, lt := range linkTags {
		if strings.Contains(lower, lt.marker) {
			return lt.tag
		}
	}
	if strings.Contains(lower, ".") {
		return "personal_site"
	}
	return "other"
}
