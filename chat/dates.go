/*
dates.go - Spanish relative date phrases

RULE TABLE (matched on folded text, first rule that matches wins):

  2025-03-10, 10/03[/2025]         absolute date
  pasado manana                    +2 days
  manana                           +1 day
  hoy                              +0
  en N dias|semanas|meses          +N units (N digits or uno..diez)
  proxima semana, semana que viene +7 days
  proximo mes, mes que viene       +1 month
  fin de semana, final de semana   Friday of this week; Sat/Sun -> next Friday
  fin de mes                       last day of this month
  lunes .. domingo                 next occurrence, never today
  una semana, dos semanas, un mes  bare windows, same as "en ..."
  N dias

DEFAULT:
  Text matching no rule resolves to tomorrow.

ANCHOR:
  Every rule counts from the anchor's calendar day at local midnight, in
  the anchor's location. Month arithmetic clamps to the last day of the
  target month (Jan 31 + 1 month = Feb 28).
*/
package chat

import (
	"regexp"
	"strconv"
	"time"

	"github.com/warp/crm-workflow/generic"
)

type dateRule struct {
	name    string
	pattern *regexp.Regexp
	resolve func(m []string, base time.Time) (time.Time, bool)
}

const numberWord = `(\d{1,3}|un|uno|una|dos|tres|cuatro|cinco|seis|siete|ocho|nueve|diez)`

var numberWords = map[string]int{
	"un": 1, "uno": 1, "una": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10,
}

var weekdays = map[string]time.Weekday{
	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday,
	"miercoles": time.Wednesday, "jueves": time.Thursday, "viernes": time.Friday,
	"sabado": time.Saturday,
}

var dateRules = []dateRule{
	{
		name:    "iso",
		pattern: regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`),
		resolve: func(m []string, base time.Time) (time.Time, bool) {
			return absolute(m[1], m[2], m[3], base)
		},
	},
	{
		name:    "day/month",
		pattern: regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}))?\b`),
		resolve: func(m []string, base time.Time) (time.Time, bool) {
			year := m[3]
			if year == "" {
				year = strconv.Itoa(base.Year())
			}
			return absolute(year, m[2], m[1], base)
		},
	},
	{
		name:    "pasado manana",
		pattern: regexp.MustCompile(`\bpasado\s+manana\b`),
		resolve: days(2),
	},
	{
		name:    "manana",
		pattern: regexp.MustCompile(`\bmanana\b`),
		resolve: days(1),
	},
	{
		name:    "hoy",
		pattern: regexp.MustCompile(`\bhoy\b`),
		resolve: days(0),
	},
	{
		name:    "en N unidades",
		pattern: regexp.MustCompile(`\ben\s+` + numberWord + `\s+(dias?|semanas?|mes|meses)\b`),
		resolve: window,
	},
	{
		name:    "proxima semana",
		pattern: regexp.MustCompile(`\b(?:(?:la\s+)?proxima\s+semana|semana\s+que\s+viene|semana\s+proxima)\b`),
		resolve: days(7),
	},
	{
		name:    "proximo mes",
		pattern: regexp.MustCompile(`\b(?:(?:el\s+)?proximo\s+mes|mes\s+que\s+viene|mes\s+proximo)\b`),
		resolve: func(_ []string, base time.Time) (time.Time, bool) {
			return addMonths(base, 1), true
		},
	},
	{
		name:    "fin de semana",
		pattern: regexp.MustCompile(`\b(?:fin|final)\s+de\s+(?:la\s+)?semana\b`),
		resolve: func(_ []string, base time.Time) (time.Time, bool) {
			switch wd := base.Weekday(); wd {
			case time.Saturday:
				return base.AddDate(0, 0, 6), true
			case time.Sunday:
				return base.AddDate(0, 0, 5), true
			default:
				return base.AddDate(0, 0, int(time.Friday-wd)), true
			}
		},
	},
	{
		name:    "fin de mes",
		pattern: regexp.MustCompile(`\b(?:fin|final)\s+(?:de|del)\s+mes\b`),
		resolve: func(_ []string, base time.Time) (time.Time, bool) {
			return time.Date(base.Year(), base.Month()+1, 0, 0, 0, 0, 0, base.Location()), true
		},
	},
	{
		name:    "dia de la semana",
		pattern: regexp.MustCompile(`\b(lunes|martes|miercoles|jueves|viernes|sabado|domingo)\b`),
		resolve: func(m []string, base time.Time) (time.Time, bool) {
			delta := (int(weekdays[m[1]]) - int(base.Weekday()) + 7) % 7
			if delta == 0 {
				delta = 7
			}
			return base.AddDate(0, 0, delta), true
		},
	},
	{
		name:    "N unidades",
		pattern: regexp.MustCompile(`\b` + numberWord + `\s+(dias?|semanas?|mes|meses)\b`),
		resolve: window,
	},
}

// ParseRelativeDate resolves text against anchor's day. Unrecognised text
// resolves to tomorrow.
func ParseRelativeDate(text string, anchor time.Time) time.Time {
	if t, _, ok := ExtractDate(text, anchor); ok {
		return t
	}
	return midnight(anchor).AddDate(0, 0, 1)
}

// ExtractDate finds the first date phrase in text. It returns the resolved
// day at local midnight and the phrase as written in text.
func ExtractDate(text string, anchor time.Time) (time.Time, string, bool) {
	t, start, end, ok := findDate(text, anchor)
	if !ok {
		return time.Time{}, "", false
	}
	return t, text[start:end], true
}

// ResolveDate is ParseRelativeDate returning a calendar day.
func ResolveDate(text string, anchor time.Time) generic.Date {
	return generic.DateOf(ParseRelativeDate(text, anchor))
}

func findDate(text string, anchor time.Time) (time.Time, int, int, bool) {
	f := newFolded(text)
	base := midnight(anchor)
	for _, rule := range dateRules {
		for _, loc := range rule.pattern.FindAllStringSubmatchIndex(f.text, -1) {
			m := submatches(f.text, loc)
			t, ok := rule.resolve(m, base)
			if !ok {
				continue
			}
			start, end := f.span(loc[0], loc[1])
			return t, start, end, true
		}
	}
	return time.Time{}, 0, 0, false
}

func submatches(s string, loc []int) []string {
	m := make([]string, len(loc)/2)
	for i := range m {
		if loc[2*i] >= 0 {
			m[i] = s[loc[2*i]:loc[2*i+1]]
		}
	}
	return m
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func days(n int) func([]string, time.Time) (time.Time, bool) {
	return func(_ []string, base time.Time) (time.Time, bool) {
		return base.AddDate(0, 0, n), true
	}
}

// window handles "[en] N dias|semanas|meses"; m[1] is the count, m[2] the unit.
func window(m []string, base time.Time) (time.Time, bool) {
	n, ok := parseCount(m[1])
	if !ok {
		return time.Time{}, false
	}
	switch m[2] {
	case "dia", "dias":
		return base.AddDate(0, 0, n), true
	case "semana", "semanas":
		return base.AddDate(0, 0, 7*n), true
	default:
		return addMonths(base, n), true
	}
}

func parseCount(s string) (int, bool) {
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// addMonths adds n months, clamping the day to the target month's length.
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, t.Location())
}

func absolute(year, month, day string, base time.Time) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	mo, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil || mo < 1 || mo > 12 || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, base.Location())
	if t.Day() != d {
		return time.Time{}, false // 31/04 and friends
	}
	return t, true
}
