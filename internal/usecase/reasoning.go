package usecase

import (
	"regexp"
	"strings"
	"unicode"
)

// Raw reasoning text from the model arrives as one unstructured
// stream. These helpers tidy it for display and derive short titles
// for thought steps. Everything here is deterministic: the same input
// always yields the same output.

var (
	controlChars = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")
	tokenNoise      = regexp.MustCompile(`[|<>]{4,}`)
	stackedPunct    = regexp.MustCompile(`([!?,.;:])[!?,.;:]{2,}`)
	spaceRuns       = regexp.MustCompile(`[ \t]+`)
	blankRuns       = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\d+[.):]\s*(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)^(?:First|Second|Third|Fourth|Fifth),?\s*(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)^(?:Let me|I need to|I should|I'll|I will|Now I|Next I)\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)^(?:Analyzing|Examining|Considering|Evaluating|Looking at|Reviewing)\s+(.+?)(?:\.|$)`),
}

var segmentStarters = []*regexp.Regexp{
	regexp.MustCompile(`^\d+[.):]\s`),
	regexp.MustCompile(`^\s*[-•]\s`),
	regexp.MustCompile(`(?i)^(first|second|third|fourth|fifth|finally|next|then|lastly|alternatively|moreover|furthermore|therefore|thus|consequently|as\s+a\s+result)\b`),
}

// CleanReasoning strips model output artifacts from raw reasoning
// text: repeated-character noise, control characters, consecutive
// duplicate lines and excess whitespace.
func CleanReasoning(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	text := dropLongRuns(raw)
	text = controlChars.ReplaceAllString(text, "")
	text = tokenNoise.ReplaceAllString(text, "")
	text = stackedPunct.ReplaceAllString(text, "$1")
	text = dropDuplicateLines(text)
	text = spaceRuns.ReplaceAllString(text, " ")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// dropLongRuns removes runs of the same non-whitespace rune longer
// than five characters, a common "aaaaa"/"....." artifact in raw
// reasoning output.
func dropLongRuns(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); {
		j := i
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		if n := j - i; n <= 5 || unicode.IsSpace(runes[i]) {
			for k := i; k < j; k++ {
				b.WriteRune(runes[k])
			}
		}
		i = j
	}
	return b.String()
}

func dropDuplicateLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	last := ""
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped != "" && stripped == last {
			continue
		}
		kept = append(kept, line)
		if stripped != "" {
			last = stripped
		} else {
			last = ""
		}
	}
	return strings.Join(kept, "\n")
}

// ExtractThoughtTitle derives a short human-readable title from the
// first line of reasoning text. Returns "" when nothing suitable can
// be found.
func ExtractThoughtTitle(reasoning string) string {
	trimmed := strings.TrimSpace(reasoning)
	if trimmed == "" {
		return ""
	}
	firstLine := trimmed
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	for _, pat := range titlePatterns {
		if m := pat.FindStringSubmatch(firstLine); len(m) > 1 {
			title := strings.TrimSpace(m[1])
			if len(title) > 5 && len(title) < 80 {
				return capitalizeFirst(title)
			}
		}
	}
	firstSentence := trimmed
	if i := strings.IndexAny(firstSentence, ".!?"); i >= 0 {
		firstSentence = firstSentence[:i]
	}
	firstSentence = strings.TrimSpace(firstSentence)
	if len(firstSentence) > 10 && len(firstSentence) < 60 {
		return capitalizeFirst(firstSentence)
	}
	return ""
}

func capitalizeFirst(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// SegmentReasoning splits cleaned reasoning into logical segments,
// breaking on blank lines and on lines that open a new enumerated or
// transition-word step. Text that never breaks comes back as a single
// segment.
func SegmentReasoning(reasoning string) []string {
	if strings.TrimSpace(reasoning) == "" {
		return nil
	}
	var segments []string
	var current strings.Builder
	flush := func(minLen int) {
		seg := strings.TrimSpace(current.String())
		if len(seg) > minLen {
			segments = append(segments, seg)
		}
		current.Reset()
	}
	for _, line := range strings.Split(reasoning, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			flush(20)
			continue
		}
		newStep := false
		for _, pat := range segmentStarters {
			if pat.MatchString(stripped) {
				newStep = true
				break
			}
		}
		if newStep && current.Len() > 0 {
			flush(0)
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(line)
	}
	flush(0)
	if len(segments) == 0 {
		segments = append(segments, strings.TrimSpace(reasoning))
	}
	return segments
}
