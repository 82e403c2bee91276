package chat

import (
	"strings"
	"time"
	"unicode"
)

// =============================================================================
// "tarea" COMMANDS
// =============================================================================

// Command is a parsed "tarea <names>, <body>" utterance.
type Command struct {
	Assignees []string // name fragments, possibly empty
	Body      string   // everything after the first comma
}

// connectors never name anyone: "tarea isaac y carolina, ..."
var connectors = map[string]bool{"y": true, "e": true, "para": true, "a": true, "con": true}

// ParseCommand splits a task utterance. The keyword is matched without
// accents or case. Without a comma there are no names and the whole rest
// is the body. ok is false when the utterance is not a task command.
func ParseCommand(utterance string) (cmd Command, ok bool) {
	text := strings.TrimSpace(utterance)
	keyword, rest, _ := strings.Cut(text, " ")
	if k := Fold(strings.TrimRight(keyword, ":,")); k != "tarea" && k != "tareas" {
		return Command{}, false
	}
	rest = strings.TrimSpace(rest)

	names, body, hasComma := strings.Cut(rest, ",")
	if !hasComma {
		return Command{Body: rest}, true
	}
	for _, f := range strings.FieldsFunc(names, func(r rune) bool { return unicode.IsSpace(r) || r == ';' }) {
		if connectors[Fold(f)] {
			continue
		}
		cmd.Assignees = append(cmd.Assignees, f)
	}
	cmd.Body = strings.TrimSpace(body)
	return cmd, true
}

// trailing words left dangling once a date phrase is cut: "llamar para el"
var dangling = map[string]bool{
	"para": true, "el": true, "la": true, "de": true, "del": true,
	"antes": true, "hasta": true, "a": true, "en": true, "este": true, "esta": true,
}

// SplitTitle removes the first date phrase from body and returns the
// remaining title with the resolved due date. Without a phrase the due date
// is tomorrow.
func SplitTitle(body string, anchor time.Time) (title string, due time.Time) {
	due, start, end, ok := findDate(body, anchor)
	if !ok {
		return cleanTitle(body), ParseRelativeDate("", anchor)
	}
	return cleanTitle(body[:start] + " " + body[end:]), due
}

func cleanTitle(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 {
		last := strings.TrimRight(words[len(words)-1], ".,;:-")
		if last != "" && !dangling[Fold(last)] {
			words[len(words)-1] = last
			break
		}
		words = words[:len(words)-1]
	}
	return strings.TrimLeft(strings.Join(words, " "), ".,;:- ")
}
