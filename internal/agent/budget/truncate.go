package budget

import "strings"

// jdKeywords marks job-description paragraphs worth keeping when the
// document must shrink: responsibilities, requirements, skills.
var jdKeywords = []string{
	"职责", "要求", "技能", "经验", "学历", "能力", "负责",
	"responsib", "requirement", "skill", "experience", "qualification",
}

// resumeKeywords marks resume paragraphs worth keeping: work history,
// projects, skills, education.
var resumeKeywords = []string{
	"工作", "项目", "经历", "技能", "教育", "经验", "负责",
	"work", "project", "experience", "skill", "education",
}

// minTailTokens is the smallest remaining budget for which a partial
// paragraph is still worth including.
const minTailTokens = 100

func containsAny(p string, keywords []string) bool {
	lower := strings.ToLower(p)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// smartTruncate shrinks a document to maxTokens by whole paragraphs,
// visiting keyword-bearing paragraphs first so the parts that matter for
// coaching survive. The last paragraph that does not fit whole is clipped
// when enough budget remains, otherwise dropped.
func (b *Builder) smartTruncate(text string, maxTokens int, keywords []string) string {
	if b.codec.Count(text) <= maxTokens {
		return text
	}

	paragraphs := strings.Split(text, "\n\n")
	var prioritized, other []string
	for _, p := range paragraphs {
		if containsAny(p, keywords) {
			prioritized = append(prioritized, p)
		} else {
			other = append(other, p)
		}
	}

	var parts []string
	used := 0
	for _, p := range append(prioritized, other...) {
		pt := b.codec.Count(p)
		if used+pt <= maxTokens {
			parts = append(parts, p)
			used += pt
			continue
		}
		if remaining := maxTokens - used; remaining > minTailTokens {
			parts = append(parts, b.codec.Truncate(p, remaining))
		}
		break
	}
	return strings.Join(parts, "\n\n")
}
