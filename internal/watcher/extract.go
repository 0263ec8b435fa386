package watcher

import (
	"regexp"
	"strings"

	"formdeploy/internal/dom"
)

// DeployedForm is a form ID and version read from the page.
type DeployedForm struct {
	FormID  string `json:"formId"`
	Version string `json:"version"`
}

var deployedPattern = regexp.MustCompile(`Form\s+ID:\s*([^,]+),\s*Deployed\s+version:\s*(\d+)`)

// leafTextLimit keeps container elements, whose text repeats their
// children's, out of the extraction.
const leafTextLimit = 100

// ExtractForms reads the first "Form ID: X, Deployed version: N" statement
// of each leaf-like element, deduplicated in document order.
func ExtractForms(elements []dom.Element) []DeployedForm {
	var found []DeployedForm
	for _, el := range elements {
		text := el.Text()
		if el.ChildCount() != 0 && len(text) >= leafTextLimit {
			continue
		}
		m := deployedPattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		found = append(found, DeployedForm{
			FormID:  strings.TrimSpace(m[1]),
			Version: m[2],
		})
	}
	return Dedupe(found)
}

// Dedupe drops repeated (form ID, version) pairs, keeping first occurrence.
func Dedupe(forms []DeployedForm) []DeployedForm {
	seen := make(map[DeployedForm]bool, len(forms))
	out := make([]DeployedForm, 0, len(forms))
	for _, f := range forms {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Resolve picks the form that was just deployed: the first one the
// spreadsheet knows about, otherwise the last one on the page.
func Resolve(forms []DeployedForm, known []string) (DeployedForm, bool) {
	if len(forms) == 0 {
		return DeployedForm{}, false
	}
	knownSet := make(map[string]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}
	for _, f := range forms {
		if knownSet[f.FormID] {
			return f, true
		}
	}
	return forms[len(forms)-1], true
}
