package pathplan

import (
	"strings"

	"github.com/paulschiretz/pgl-booksync/pkg/bookmeta"
)

// AuthorRule names one branch of the author field heuristic.
type AuthorRule int

const (
	// RuleCleanAuthor passes title and author through unchanged.
	RuleCleanAuthor AuthorRule = iota
	// RuleCompoundAuthor handles title text that leaked into the author
	// field: the last " - " segment is the author, the rest joins the title.
	RuleCompoundAuthor
	// RuleMissingAuthor substitutes the unknown author for a blank field.
	RuleMissingAuthor
)

var authorRuleNames = map[AuthorRule]string{
	RuleCleanAuthor:    "clean-author",
	RuleCompoundAuthor: "compound-author",
	RuleMissingAuthor:  "missing-author",
}

func (r AuthorRule) String() string {
	if name, ok := authorRuleNames[r]; ok {
		return name
	}
	return "unknown"
}

// authorSeparator separates title text from the author in polluted fields.
const authorSeparator = " - "

// SplitAuthor applies the author field heuristic. It is best effort: an
// author whose real name contains " - " is split as well.
func SplitAuthor(title, author string) (string, string, AuthorRule) {
	author = strings.TrimSpace(author)
	switch {
	case author == "":
		return title, bookmeta.UnknownAuthor, RuleMissingAuthor
	case strings.Contains(author, authorSeparator):
		i := strings.LastIndex(author, authorSeparator)
		extra := strings.TrimSpace(author[:i])
		last := strings.TrimSpace(author[i+len(authorSeparator):])
		if last == "" {
			last = bookmeta.UnknownAuthor
		}
		if extra != "" {
			title = title + authorSeparator + extra
		}
		return title, last, RuleCompoundAuthor
	default:
		return title, author, RuleCleanAuthor
	}
}
