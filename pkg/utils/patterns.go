package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

// PatternMatcher handles glob pattern matching against slash-separated paths.
// "*" and "?" never cross a "/", "**" does.
type PatternMatcher struct {
	regexps []*regexp.Regexp
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{
		regexps: make([]*regexp.Regexp, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		regex, err := globToRegex(NormalizePattern(pattern))
		if err != nil {
			return nil, err
		}
		pm.regexps = append(pm.regexps, regex)
	}

	return pm, nil
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(path string) bool {
	path = filepath.ToSlash(path)

	for _, regex := range pm.regexps {
		if regex.MatchString(path) {
			return true
		}
	}

	return false
}

// globToRegex converts a glob pattern to an anchored regular expression
func globToRegex(pattern string) (*regexp.Regexp, error) {
	var regex strings.Builder
	regex.WriteString("^")

	i := 0
	for i < len(pattern) {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// **/ matches zero or more leading directories
					regex.WriteString("(?:.*/)?")
					i += 3
				} else {
					regex.WriteString(".*")
					i += 2
				}
			} else {
				regex.WriteString("[^/]*")
				i++
			}
		case '?':
			regex.WriteString("[^/]")
			i++
		case '[':
			j := i + 1
			if j < len(pattern) && pattern[j] == '!' {
				regex.WriteString("[^")
				j++
			} else {
				regex.WriteString("[")
			}

			for j < len(pattern) && pattern[j] != ']' {
				if pattern[j] == '\\' && j+1 < len(pattern) {
					regex.WriteByte(pattern[j])
					regex.WriteByte(pattern[j+1])
					j += 2
				} else {
					regex.WriteByte(pattern[j])
					j++
				}
			}

			if j < len(pattern) {
				regex.WriteByte(']')
				i = j + 1
			} else {
				// Unclosed bracket, treat as literal
				regex.Reset()
				return globToRegex(strings.Replace(pattern, "[", "\\[", 1))
			}
		case '\\':
			if i+1 < len(pattern) {
				regex.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				regex.WriteString("\\\\")
				i++
			}
		case '.', '+', '^', '$', '(', ')', '{', '}', '|':
			regex.WriteByte('\\')
			regex.WriteByte(pattern[i])
			i++
		default:
			regex.WriteByte(pattern[i])
			i++
		}
	}

	regex.WriteString("$")

	return regexp.Compile(regex.String())
}

// IsGlobPattern checks if a string contains glob wildcards
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// NormalizePattern normalizes a file pattern
func NormalizePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\\\", "\x00")
	pattern = filepath.ToSlash(pattern)
	pattern = strings.ReplaceAll(pattern, "\x00", "\\\\")
	pattern = strings.TrimPrefix(pattern, "./")
	pattern = strings.TrimSuffix(pattern, "/")
	return pattern
}

// FileMatcher decides whether a file's base name is a project descriptor
type FileMatcher struct {
	matcher *PatternMatcher
}

// NewFileMatcher creates a matcher for descriptor file names such as "*.proj"
func NewFileMatcher(pattern string) (*FileMatcher, error) {
	pm, err := NewPatternMatcher([]string{pattern})
	if err != nil {
		return nil, err
	}
	return &FileMatcher{matcher: pm}, nil
}

// Match reports whether the base name of path matches
func (fm *FileMatcher) Match(path string) bool {
	return fm.matcher.Match(filepath.Base(path))
}

// ExclusionMatcher decides which directories the scan skips.
// Plain names ("node_modules") match a directory with that base name at any
// depth; globs without "/" match the base name; patterns containing "/" match
// the path relative to the scan root.
type ExclusionMatcher struct {
	names    map[string]bool
	baseGlob *PatternMatcher
	relGlob  *PatternMatcher
}

// NewExclusionMatcher creates a new exclusion matcher
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	em := &ExclusionMatcher{names: make(map[string]bool)}

	var baseGlobs, relGlobs []string
	for _, p := range patterns {
		p = NormalizePattern(p)
		switch {
		case p == "":
		case strings.Contains(p, "/"):
			relGlobs = append(relGlobs, p)
		case IsGlobPattern(p):
			baseGlobs = append(baseGlobs, p)
		default:
			em.names[p] = true
		}
	}

	var err error
	if em.baseGlob, err = NewPatternMatcher(baseGlobs); err != nil {
		return nil, err
	}
	if em.relGlob, err = NewPatternMatcher(relGlobs); err != nil {
		return nil, err
	}
	return em, nil
}

// IsExcluded checks if a path, given relative to the scan root, is skipped.
// Names and base-name globs are checked against every segment.
func (em *ExclusionMatcher) IsExcluded(relPath string) bool {
	relPath = filepath.ToSlash(filepath.Clean(relPath))
	for _, segment := range strings.Split(relPath, "/") {
		if em.names[segment] || em.baseGlob.Match(segment) {
			return true
		}
	}
	return em.relGlob.Match(relPath)
}

// GetDefaultExclusions returns the directories skipped when no exclusions
// are configured
func GetDefaultExclusions() []string {
	return []string{
		".git",
		".svn",
		".hg",
		".projbuild",
	}
}
