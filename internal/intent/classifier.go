// Package intent classifies a question into a retrieval strategy.
// Classification is purely lexical and stateless: the same input string
// always produces the same intent.
package intent

import (
	"regexp"
	"strings"
	"time"
)

// Kind identifies the retrieval strategy for a question.
type Kind int

const (
	// KindSemantic is the fallback: embed the question and search the vector index.
	KindSemantic Kind = iota
	// KindTimeRange summarizes messages inside an inclusive month range.
	KindTimeRange
	// KindFirstMessage asks for the earliest real message in the group.
	KindFirstMessage
	// KindFollowUp asks what came after the last message the engine pointed at.
	KindFollowUp
	// KindUserList asks who is in the group.
	KindUserList
	// KindTopicStart asks who first brought up a topic keyword.
	KindTopicStart
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindTimeRange:
		return "time_range"
	case KindFirstMessage:
		return "first_message"
	case KindFollowUp:
		return "follow_up"
	case KindUserList:
		return "user_list"
	case KindTopicStart:
		return "topic_start"
	default:
		return "semantic"
	}
}

// Intent is the classified strategy plus its extracted parameters.
// Start/End are set for KindTimeRange, Keyword for KindTopicStart, and
// ImageIntent for KindSemantic.
type Intent struct {
	Kind        Kind
	Start       time.Time
	End         time.Time
	Keyword     string
	ImageIntent bool
}

var monthRangePattern = regexp.MustCompile(
	`(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{4})\s+(?:to|-)\s+` +
		`(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{4})`)

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var followUpPhrases = []string{
	"who replied", "what happened next", "continue", "and then", "reply for that",
}

var imageKeywords = []string{
	"image", "images", "photo", "photos",
	"picture", "pictures",
	"show", "display", "angiogram",
}

// Classify maps a question to an intent. The checks form a priority list and
// first match wins; a question that matches nothing is a semantic search.
func Classify(question string) Intent {
	q := strings.ToLower(strings.TrimSpace(question))

	if in, ok := classifyTimeRange(q); ok {
		return in
	}
	if strings.Contains(q, "who texted first") || strings.Contains(q, "first message") {
		return Intent{Kind: KindFirstMessage}
	}
	for _, phrase := range followUpPhrases {
		if strings.Contains(q, phrase) {
			return Intent{Kind: KindFollowUp}
		}
	}
	if strings.Contains(q, "how many users") || strings.Contains(q, "users in group") {
		return Intent{Kind: KindUserList}
	}
	if strings.Contains(q, "who started") && strings.Contains(q, "about") {
		_, after, _ := strings.Cut(q, "about")
		if kw := strings.TrimSpace(after); kw != "" {
			return Intent{Kind: KindTopicStart, Keyword: kw}
		}
	}
	return Intent{Kind: KindSemantic, ImageIntent: isImageQuery(q)}
}

// classifyTimeRange matches "<Month> <Year> (to|-) <Month> <Year>" and
// resolves it to the inclusive interval [start-month 1st 00:00:00,
// end-month last day 23:59:59]. The end day follows the calendar, leap years
// included. Text that does not match simply fails classification.
func classifyTimeRange(q string) (Intent, bool) {
	m := monthRangePattern.FindStringSubmatch(q)
	if m == nil {
		return Intent{}, false
	}
	startMonth, endMonth := months[m[1]], months[m[3]]
	startYear, endYear := atoiYear(m[2]), atoiYear(m[4])

	start := time.Date(startYear, startMonth, 1, 0, 0, 0, 0, time.UTC)
	// Day 0 of the following month is the last day of endMonth.
	lastDay := time.Date(endYear, endMonth+1, 0, 0, 0, 0, 0, time.UTC).Day()
	end := time.Date(endYear, endMonth, lastDay, 23, 59, 59, 0, time.UTC)
	return Intent{Kind: KindTimeRange, Start: start, End: end}, true
}

func atoiYear(s string) int {
	y := 0
	for _, c := range s {
		y = y*10 + int(c-'0')
	}
	return y
}

func isImageQuery(q string) bool {
	for _, kw := range imageKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
