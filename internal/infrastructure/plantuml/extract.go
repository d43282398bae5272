package plantuml

import (
	"fmt"
	"regexp"
	"strings"
)

var blockPattern = regexp.MustCompile(`@startuml[\s\S]*?@enduml`)

// Extract returns the first @startuml ... @enduml region of text.
func Extract(text string) (string, bool) {
	block := blockPattern.FindString(text)
	if block == "" {
		return "", false
	}
	return block, true
}

// Issue is a lint finding on an extracted diagram. Lint findings never block
// a render.
type Issue struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d: %s", i.Line, i.Message)
}

var classDecl = regexp.MustCompile(`^\s*(abstract\s+class|class|interface|enum)\s+("?[\w.]+"?)`)

// Lint reports structural problems in a PlantUML block, such as unbalanced
// braces or a class declared twice.
func Lint(block string) []Issue {
	var issues []Issue
	lines := strings.Split(block, "\n")

	depth := 0
	openedAt := 0
	declared := make(map[string]int)
	body := 0

	for i, line := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "'") || strings.HasPrefix(trimmed, "@") {
			continue
		}
		body++

		if m := classDecl.FindStringSubmatch(trimmed); m != nil {
			name := strings.Trim(m[2], `"`)
			if first, seen := declared[name]; seen {
				issues = append(issues, Issue{Line: n, Message: fmt.Sprintf("%s %q already declared on line %d", m[1], name, first)})
			} else {
				declared[name] = n
			}
		}

		for _, r := range trimmed {
			switch r {
			case '{':
				if depth == 0 {
					openedAt = n
				}
				depth++
			case '}':
				depth--
				if depth < 0 {
					issues = append(issues, Issue{Line: n, Message: "unexpected '}'"})
					depth = 0
				}
			}
		}
	}

	if depth > 0 {
		issues = append(issues, Issue{Line: openedAt, Message: "unclosed '{'"})
	}
	if body == 0 {
		issues = append(issues, Issue{Line: 1, Message: "diagram has no content"})
	}
	return issues
}
