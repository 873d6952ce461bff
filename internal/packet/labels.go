package packet

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var channelLabels = map[Channel]string{
	ChannelFax:    "Fax",
	ChannelESMD:   "eSMD",
	ChannelPortal: "Provider Portal",
}

// Label returns the dashboard display label for a channel.
func (c Channel) Label() string {
	if label, ok := channelLabels[c]; ok {
		return label
	}
	return titleize(string(c))
}

// Label returns the dashboard display label for a status, e.g.
// "in_progress" renders as "In Progress".
func (s Status) Label() string {
	switch s {
	case StatusAPIError:
		return "API Error"
	default:
		return titleize(string(s))
	}
}

// Label returns the display label for a severity.
func (s Severity) Label() string {
	return titleize(string(s))
}

func titleize(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return ""
	}
	return cases.Title(language.Und).String(value)
}
