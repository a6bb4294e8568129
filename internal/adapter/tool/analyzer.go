package tool

import (
	"fmt"
	"regexp"
	"strings"

	"deepchat/internal/domain"
)

// CodeAnalyzer screens code snippets before execution and rejects ones
// that perform filesystem modification, process spawning or dynamic
// evaluation. The exec tools run in read-only mode; the analyzer is the
// gate that enforces it. Syntax errors are not its concern and pass
// through to the interpreter.
type CodeAnalyzer struct {
	pythonPatterns []*regexp.Regexp
	jsPatterns     []*regexp.Regexp
}

// NewCodeAnalyzer compiles the modification-detection patterns.
func NewCodeAnalyzer() *CodeAnalyzer {
	pythonKeywords := []string{
		`\bopen\s*\([^)]*["'][wax]`,
		`\bos\s*\.\s*(remove|unlink|rename|rmdir|removedirs|system|popen|chmod|chown|mkdir|makedirs)\b`,
		`\bshutil\s*\.`,
		`\bsubprocess\b`,
		`\b(exec|eval|compile)\s*\(`,
		`\b__import__\s*\(`,
		`^\s*(import|from)\s+(os|sys|subprocess|shutil|tempfile|socket)\b`,
	}
	jsKeywords := []string{
		`\b(writeFile|writeFileSync|appendFile|appendFileSync|unlink|unlinkSync|rmdir|rmdirSync|rm|rmSync|mkdir|mkdirSync|rename|renameSync|chmod|chown)\s*\(`,
		`\brequire\s*\(\s*["'](fs|child_process|net|http|https|os)["']\s*\)`,
		`\bimport\s+.*["'](fs|child_process|net|http|https|os)["']`,
		`\beval\s*\(`,
		`\bnew\s+Function\s*\(`,
		`\bprocess\s*\.\s*(exit|kill|env)\b`,
	}

	a := &CodeAnalyzer{}
	for _, kw := range pythonKeywords {
		a.pythonPatterns = append(a.pythonPatterns, regexp.MustCompile(`(?m)`+kw))
	}
	for _, kw := range jsKeywords {
		a.jsPatterns = append(a.jsPatterns, regexp.MustCompile(`(?m)`+kw))
	}
	return a
}

// Check inspects code in the given language ("python" or "javascript").
// It returns the list of detected modification operations; an empty
// list means the code may run.
func (a *CodeAnalyzer) Check(code, language string) []string {
	var patterns []*regexp.Regexp
	switch strings.ToLower(language) {
	case "python":
		patterns = a.pythonPatterns
	case "javascript", "js":
		patterns = a.jsPatterns
	default:
		return []string{fmt.Sprintf("unsupported language: %s", language)}
	}

	var detected []string
	for _, pat := range patterns {
		if m := pat.FindString(code); m != "" {
			detected = append(detected, strings.TrimSpace(m))
		}
	}
	return detected
}

// Validate returns a domain error naming the blocked operations when
// the code is not safe to run.
func (a *CodeAnalyzer) Validate(code, language string) error {
	detected := a.Check(code, language)
	if len(detected) == 0 {
		return nil
	}
	return domain.NewDomainError("analyzer.validate", domain.ErrCodeBlocked,
		strings.Join(detected, ", "))
}
