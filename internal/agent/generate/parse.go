package generate

import (
	"regexp"
	"strings"

	"github.com/interviewcoach/server/internal/agent/model"
)

var (
	analysisRe      = regexp.MustCompile(`(?s)<analysis>(.*?)</analysis>`)
	strengthsRe     = regexp.MustCompile(`(?s)<strengths>(.*?)</strengths>`)
	improvementsRe  = regexp.MustCompile(`(?s)<improvements>(.*?)</improvements>`)
	encouragementRe = regexp.MustCompile(`(?s)<encouragement>(.*?)</encouragement>`)

	optimizedRe = regexp.MustCompile(`(?s)<optimized>(.*?)</optimized>`)
	scriptRe    = regexp.MustCompile(`(?s)<script>(.*?)</script>`)
)

func firstGroup(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ParseCritique extracts the structured critique from the model's tagged
// output. A missing tag yields an empty field, never an error; the raw
// content is always preserved for rendering.
func ParseCritique(content string) *model.Critique {
	return &model.Critique{
		Analysis:      firstGroup(analysisRe, content),
		Strengths:     firstGroup(strengthsRe, content),
		Improvements:  firstGroup(improvementsRe, content),
		Encouragement: firstGroup(encouragementRe, content),
		RawContent:    content,
	}
}

// ExtractSaveContent pulls the saveable answer out of an advisory reply:
// the <optimized> tag wins, then <script>. Empty when neither is present.
func ExtractSaveContent(content string) string {
	if v := firstGroup(optimizedRe, content); v != "" {
		return v
	}
	return firstGroup(scriptRe, content)
}
