package notify

import (
	"fmt"
	"strings"
	"time"
)

// ICalInput describes the calendar invite attached to a "locked" message.
type ICalInput struct {
	Service     string
	Start       time.Time
	End         time.Time
	Description string
	URL         string
}

// GenerateICal renders a minimal VCALENDAR with a 15-minute display alarm,
// matching what mail clients need to surface the deadline as an event.
func GenerateICal(in ICalInput) string {
	format := func(t time.Time) string {
		return t.UTC().Format("20060102T150405Z")
	}
	now := format(time.Now())
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//commitd//NONSGML v1.0//EN",
		"BEGIN:VEVENT",
		fmt.Sprintf("UID:%d@commitd", time.Now().UnixNano()),
		"DTSTAMP:" + now,
		"DTSTART:" + format(in.Start),
		"DTEND:" + format(in.End),
		fmt.Sprintf("SUMMARY:%s (commitd)", in.Service),
		"DESCRIPTION:" + in.Description,
	}
	if in.URL != "" {
		lines = append(lines, "URL:"+in.URL)
	}
	lines = append(lines,
		"STATUS:CONFIRMED",
		"BEGIN:VALARM",
		"TRIGGER:-PT15M",
		"ACTION:DISPLAY",
		"DESCRIPTION:Reminder",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	return strings.Join(lines, "\r\n")
}
