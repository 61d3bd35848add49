package reddit

import "strings"

// nonRelatedKeywords is the curated keyword list for the auto-classifier.
// A subreddit whose rules or description contain any of these is marked
// "Non Related". The scan is case-insensitive substring matching; first match
// wins. Applied only to rows with no human verdict yet.
var nonRelatedKeywords = []string{
	// Anime / drawn content
	"hentai",
	"anime only",
	"anime girls",
	"anime porn",
	"drawn content",
	"drawn art only",
	"rule34",
	"rule 34",
	"ecchi",
	"doujin",
	"waifu",
	"2d only",
	"cartoon porn",
	"animated only",
	"fan art only",
	"fanart only",
	"illustrations only",
	"no real people",
	"no irl",
	"furry",
	"fursona",
	"anthro",

	// Fiction / media reposts
	"celebs only",
	"celebrities only",
	"celebrity only",
	"screenshots only",
	"gifs only",
	"movie scenes",
	"tv scenes",
	"vintage only",
	"classic films",

	// Extreme / niche fetishes out of scope
	"scat",
	"watersports only",
	"abdl",
	"diaper",
	"vore",
	"guro",
	"inflation fetish",
	"giantess",
	"macrophilia",
	"ballbusting",
	"cbt only",
	"findom only",
	"feederism",
	"weight gain fetish",
	"pregnant only",
	"preggo only",
	"fart fetish",
	"burp fetish",
	"sneeze fetish",
	"quicksand",
	"cannibalism",
	"necro",
	"hypno only",
	"sissy hypno",

	// SFW-only / nudity-prohibited communities
	"no nudity allowed",
	"sfw only",
	"safe for work only",
	"no nsfw content",
	"no explicit content",
	"non-nude only",
	"nonnude only",
	"no porn allowed",
	"clothed only",
	"no sexual content",
	"wholesome only",

	// Meta / discussion, no content
	"discussion only",
	"no pictures allowed",
	"no images allowed",
	"text posts only",
	"questions only",
	"advice only",
	"support group",
	"recovery community",
	"rant subreddit",

	// Gaming / hobby communities that share names with adult terms
	"minecraft",
	"roblox",
	"fortnite",
	"speedrun",
	"esports",
	"trading cards",
	"card game",
	"board game",
	"tabletop",
	"modded",
}

// ClassifyNonRelated scans combined rules+description text for the curated
// keyword list. Returns the matched keyword and true on the first hit.
func ClassifyNonRelated(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range nonRelatedKeywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}
