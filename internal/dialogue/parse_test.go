package dialogue

import (
	"reflect"
	"testing"
	"unicode/utf8"
)

func TestParseSummarySections(t *testing.T) {
	text := `KEY INSIGHTS:
- flux and identity are not exclusive
- names outlive their bearers

Unresolved Questions:
1. whether perception can ever be trained

SOURCES:
* Heraclitus, fragment 12
`
	insights, unresolved, sources := parseSummarySections(text)
	if !reflect.DeepEqual(insights, []string{"flux and identity are not exclusive", "names outlive their bearers"}) {
		t.Fatalf("insights = %v", insights)
	}
	if !reflect.DeepEqual(unresolved, []string{"whether perception can ever be trained"}) {
		t.Fatalf("unresolved = %v", unresolved)
	}
	if !reflect.DeepEqual(sources, []string{"Heraclitus, fragment 12"}) {
		t.Fatalf("sources = %v", sources)
	}
}

func TestParseSummarySectionsMissingAreEmpty(t *testing.T) {
	insights, unresolved, sources := parseSummarySections("KEY INSIGHTS:\n- just one\n")
	if len(insights) != 1 || unresolved != nil || sources != nil {
		t.Fatalf("got (%v, %v, %v)", insights, unresolved, sources)
	}
}

func TestParseSummarySectionsIgnoresPreamble(t *testing.T) {
	insights, _, _ := parseSummarySections("Here is the summary you asked for.\nKEY INSIGHTS:\n- real item\n")
	if !reflect.DeepEqual(insights, []string{"real item"}) {
		t.Fatalf("insights = %v", insights)
	}
}

func TestHeaderMatchesRejectsBulletMentions(t *testing.T) {
	if headerMatches("- the key insight here is flux", "key insight") {
		t.Fatal("a bullet item mentioning the label is not a header")
	}
	if !headerMatches("## Key Insights", "key insight") {
		t.Fatal("markdown headers should match")
	}
}

func TestClassifyMoveCompoundBeforeSubstring(t *testing.T) {
	if got := classifyMove("This is an antithesis to the claim."); got != MoveAntithesis {
		t.Fatalf("got %s, want antithesis", got)
	}
	if got := classifyMove("synthesis"); got != MoveSynthesis {
		t.Fatalf("got %s, want synthesis", got)
	}
	if got := classifyMove("Thesis."); got != MoveThesis {
		t.Fatalf("got %s, want thesis", got)
	}
}

func TestClassifyMoveDefaultsToClarification(t *testing.T) {
	if got := classifyMove("I cannot categorize this."); got != MoveClarification {
		t.Fatalf("got %s, want clarification", got)
	}
}

func TestLeadingYes(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"YES", true},
		{"yes, they have history", true},
		{"YES. They share a school.", true},
		{"NO", false},
		{"Maybe yes", false},
		{"", false},
		{"YESTERDAY they spoke", false},
	}
	for _, c := range cases {
		if got := leadingYes(c.in); got != c.want {
			t.Fatalf("leadingYes(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 4); got != "abcd" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("ab", 4); got != "ab" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "πάντα ῥεῖ" — cutting mid-rune must back up to the boundary.
	s := "πάντα ῥεῖ"
	got := truncate(s, 3)
	if !utf8.ValidString(got) {
		t.Fatalf("got invalid UTF-8: %q", got)
	}
	if got != "π" {
		t.Fatalf("got %q, want %q", got, "π")
	}
}
