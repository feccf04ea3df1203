package targeting

import (
	"strings"
)

// Selector names which players an effect applies to.
type Selector string

const (
	// SelectorSelf targets the acting player
	SelectorSelf Selector = "self"
	// SelectorNextPlayer targets the next player in turn order
	SelectorNextPlayer Selector = "next_player"
	// SelectorAllOthers targets every active player except the actor
	SelectorAllOthers Selector = "all_others"
	// SelectorChoose targets a player picked by the actor
	SelectorChoose Selector = "choose"
	// SelectorAll targets every active player
	SelectorAll Selector = "all"
)

// ParseSelector normalizes a selector string. Unknown or empty values fall
// back to def.
func ParseSelector(raw string, def Selector) Selector {
	switch sel := Selector(strings.ToLower(strings.TrimSpace(raw))); sel {
	case SelectorSelf, SelectorNextPlayer, SelectorAllOthers, SelectorChoose, SelectorAll:
		return sel
	default:
		return def
	}
}

// NeedsChoice reports whether the selector requires an explicit target.
func (s Selector) NeedsChoice() bool {
	return s == SelectorChoose
}

// FormatTargets formats target IDs into a single string for log metadata.
func FormatTargets(targets []string) string {
	if len(targets) == 0 {
		return ""
	}
	return strings.Join(targets, ",")
}
