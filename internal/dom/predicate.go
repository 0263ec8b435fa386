package dom

import "strings"

// Predicate filters elements.
type Predicate func(Element) bool

// Enabled matches elements that are not disabled.
func Enabled(el Element) bool { return !el.Disabled() }

// TextEquals matches trimmed text content exactly.
func TextEquals(s string) Predicate {
	return func(el Element) bool {
		return strings.TrimSpace(el.Text()) == s
	}
}

// TextContains matches a case-insensitive substring of the text content.
func TextContains(s string) Predicate {
	needle := strings.ToLower(s)
	return func(el Element) bool {
		return strings.Contains(strings.ToLower(el.Text()), needle)
	}
}

// LabelContains matches a case-insensitive substring of the label.
func LabelContains(s string) Predicate {
	needle := strings.ToLower(s)
	return func(el Element) bool {
		return strings.Contains(strings.ToLower(el.Label()), needle)
	}
}

// AttrContains matches a case-insensitive substring of an attribute value.
func AttrContains(name, s string) Predicate {
	needle := strings.ToLower(s)
	return func(el Element) bool {
		v, ok := el.Attr(name)
		return ok && strings.Contains(strings.ToLower(v), needle)
	}
}

// And matches when every predicate matches.
func And(preds ...Predicate) Predicate {
	return func(el Element) bool {
		for _, p := range preds {
			if !p(el) {
				return false
			}
		}
		return true
	}
}

// Or matches when any predicate matches.
func Or(preds ...Predicate) Predicate {
	return func(el Element) bool {
		for _, p := range preds {
			if p(el) {
				return true
			}
		}
		return false
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(el Element) bool { return !p(el) }
}

// TextMatches builds a predicate from exact strings and substrings, the
// form used by the configurable affordance heuristics.
func TextMatches(exact, contains []string) Predicate {
	var preds []Predicate
	for _, s := range exact {
		preds = append(preds, TextEquals(s))
	}
	for _, s := range contains {
		preds = append(preds, TextContains(s))
	}
	return Or(preds...)
}
