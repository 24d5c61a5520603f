package om

import "strings"

// ParseMode selects how strictly ParseObserverOutput treats malformed
// tag nesting.
type ParseMode string

const (
	ParseStrict  ParseMode = "strict"
	ParseLenient ParseMode = "lenient"
)

// Thread is one <thread id="..."> block inside <observations>.
type Thread struct {
	ID   string
	Text string
}

// ParsedOutput is the structured result of parsing one observer/reflector
// response.
type ParsedOutput struct {
	Observations      string
	Threads           []Thread
	CurrentTask       string
	SuggestedResponse string
}

type openTag struct {
	name string
	attr string
	body strings.Builder
}

// ParseObserverOutput recognizes the XML-ish <observations>/<current-task>/
// <suggested-response>/<thread id="..."> blocks per spec §4.10.4. It never
// panics on arbitrary input: unmatched or malformed tags are either
// rejected (strict) or recovered to the most recently opened tag (lenient).
func ParseObserverOutput(raw string, mode ParseMode) ParsedOutput {
	if mode == "" {
		mode = ParseStrict
	}
	var out ParsedOutput
	var stack []*openTag
	var observationsBody strings.Builder

	flushTop := func() {
		if len(stack) == 0 {
			return
		}
		top := stack[len(stack)-1]
		switch top.name {
		case "current-task":
			out.CurrentTask = strings.TrimSpace(top.body.String())
		case "suggested-response":
			out.SuggestedResponse = strings.TrimSpace(top.body.String())
		case "observations":
			observationsBody.WriteString(top.body.String())
		case "thread":
			out.Threads = append(out.Threads, Thread{ID: top.attr, Text: strings.TrimSpace(top.body.String())})
		}
		stack = stack[:len(stack)-1]
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if tagName, attr, closing, isTag := parseTagLine(trimmed); isTag {
			if closing {
				if len(stack) == 0 {
					continue // stray close tag, ignore
				}
				if stack[len(stack)-1].name != tagName {
					if mode == ParseStrict {
						continue // overlapping close in strict mode is rejected
					}
					// lenient: pop until match found, or give up quietly.
					for len(stack) > 0 && stack[len(stack)-1].name != tagName {
						flushTop()
					}
				}
				if len(stack) > 0 {
					flushTop()
				}
				continue
			}
			// opening tag
			if mode == ParseStrict && tagExists(stack, tagName) && tagName != "thread" {
				continue // reject overlapping open tags of the same name
			}
			node := &openTag{name: tagName, attr: attr}
			stack = append(stack, node)
			continue
		}
		if len(stack) == 0 {
			continue
		}
		top := stack[len(stack)-1]
		top.body.WriteString(line)
		top.body.WriteString("\n")
	}
	for len(stack) > 0 {
		flushTop()
	}
	out.Observations = strings.TrimSpace(observationsBody.String())
	return out
}

func tagExists(stack []*openTag, name string) bool {
	for _, t := range stack {
		if t.name == name {
			return true
		}
	}
	return false
}

// parseTagLine recognizes a line that is entirely a tag, e.g.
// "<observations>", "</observations>", or `<thread id="t1">`.
func parseTagLine(line string) (name, attr string, closing, ok bool) {
	if !strings.HasPrefix(line, "<") || !strings.HasSuffix(line, ">") {
		return "", "", false, false
	}
	inner := line[1 : len(line)-1]
	if strings.HasPrefix(inner, "/") {
		return strings.TrimSpace(inner[1:]), "", true, true
	}
	parts := strings.SplitN(inner, " ", 2)
	name = parts[0]
	if len(parts) == 2 {
		attr = extractIDAttr(parts[1])
	}
	switch name {
	case "observations", "current-task", "suggested-response", "thread":
		return name, attr, false, true
	default:
		return "", "", false, false
	}
}

func extractIDAttr(rest string) string {
	const key = `id="`
	idx := strings.Index(rest, key)
	if idx < 0 {
		return ""
	}
	rest = rest[idx+len(key):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return rest
	}
	return rest[:end]
}
