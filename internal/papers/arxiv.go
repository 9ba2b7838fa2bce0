package papers

import (
	"fmt"
	"regexp"
	"strings"
)

var arxivIDPattern = regexp.MustCompile(`(?:huggingface\.co/papers|arxiv\.org/(?:abs|pdf))/(\d{4,5}\.\d+)(?:v\d+)?`)

// ExtractArxivID returns the versionless arXiv identifier embedded in a paper
// URL, or "" when the URL carries none.
func ExtractArxivID(rawURL string) string {
	m := arxivIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// DocumentURL renders the PDF location for id from a template containing one %s verb.
func DocumentURL(template, id string) string {
	if !strings.Contains(template, "%s") {
		return template + id
	}
	return fmt.Sprintf(template, id)
}
