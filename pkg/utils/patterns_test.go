package utils_test

import (
	"testing"

	"github.com/projbuild/projbuild/pkg/utils"
)

func TestPatternMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{
			name:     "simple wildcard",
			patterns: []string{"*.proj"},
			path:     "app.proj",
			want:     true,
		},
		{
			name:     "simple wildcard no match",
			patterns: []string{"*.proj"},
			path:     "app.json",
			want:     false,
		},
		{
			name:     "single star does not cross directories",
			patterns: []string{"*.proj"},
			path:     "libs/core.proj",
			want:     false,
		},
		{
			name:     "double wildcard",
			patterns: []string{"**/*.proj"},
			path:     "libs/core/core.proj",
			want:     true,
		},
		{
			name:     "double wildcard root",
			patterns: []string{"**/*.proj"},
			path:     "app.proj",
			want:     true,
		},
		{
			name:     "question mark",
			patterns: []string{"lib?.proj"},
			path:     "lib1.proj",
			want:     true,
		},
		{
			name:     "question mark no match",
			patterns: []string{"lib?.proj"},
			path:     "lib12.proj",
			want:     false,
		},
		{
			name:     "character class",
			patterns: []string{"lib[0-9].proj"},
			path:     "lib5.proj",
			want:     true,
		},
		{
			name:     "negated character class",
			patterns: []string{"lib[!a-z].proj"},
			path:     "lib1.proj",
			want:     true,
		},
		{
			name:     "multiple patterns",
			patterns: []string{"*.proj", "*.csproj"},
			path:     "app.csproj",
			want:     true,
		},
		{
			name:     "directory pattern",
			patterns: []string{"vendor/**/*"},
			path:     "vendor/acme/lib/lib.proj",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher, err := utils.NewPatternMatcher(tt.patterns)
			if err != nil {
				t.Fatalf("failed to create matcher: %v", err)
			}

			if got := matcher.Match(tt.path); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFileMatcher(t *testing.T) {
	matcher, err := utils.NewFileMatcher("*.proj")
	if err != nil {
		t.Fatalf("failed to create matcher: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/repo/app/app.proj", true},
		{"/repo/libs/core/core.proj", true},
		{"/repo/app/app.proj.bak", false},
		{"/repo/app/readme.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := matcher.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIsGlobPattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"*.proj", true},
		{"lib?.proj", true},
		{"src/[abc].proj", true},
		{"app.proj", false},
		{"libs/core", false},
		{"**/*.proj", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := utils.IsGlobPattern(tt.pattern); got != tt.want {
				t.Errorf("IsGlobPattern(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"./libs/*.proj", "libs/*.proj"},
		{"build/", "build"},
		{"libs/../vendor", "libs/../vendor"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := utils.NormalizePattern(tt.pattern); got != tt.want {
				t.Errorf("NormalizePattern(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestExclusionMatcher(t *testing.T) {
	matcher, err := utils.NewExclusionMatcher([]string{
		"node_modules",
		".git",
		"*.tmp",
		"third_party/generated",
	})
	if err != nil {
		t.Fatalf("failed to create exclusion matcher: %v", err)
	}

	tests := []struct {
		path     string
		excluded bool
	}{
		{"node_modules", true},
		{"web/node_modules", true},
		{"node_modules/pkg/index.proj", true},
		{".git", true},
		{"cache.tmp", true},
		{"build/cache.tmp", true},
		{"third_party/generated", true},
		{"vendor/third_party/generated", false},
		{"third_party", false},
		{"libs/core", false},
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := matcher.IsExcluded(tt.path); got != tt.excluded {
				t.Errorf("IsExcluded(%q) = %v, want %v", tt.path, got, tt.excluded)
			}
		})
	}
}

func TestGetDefaultExclusions(t *testing.T) {
	exclusions := utils.GetDefaultExclusions()

	for _, pattern := range []string{".git", ".projbuild"} {
		found := false
		for _, exclusion := range exclusions {
			if exclusion == pattern {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected default exclusion %q not found", pattern)
		}
	}
}

func TestPatternMatcher_SinglePattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.proj", "app.proj", true},
		{"*.proj", "app.json", false},
		{"libs/*.proj", "libs/core.proj", true},
		{"libs/*.proj", "libs/core/core.proj", false},
		{"**/*.proj", "libs/core/core.proj", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.path, func(t *testing.T) {
			matcher, err := utils.NewPatternMatcher([]string{tt.pattern})
			if err != nil {
				t.Fatalf("NewPatternMatcher error: %v", err)
			}
			if got := matcher.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) with %q = %v, want %v", tt.path, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestPatternMatcher_EdgeCases(t *testing.T) {
	matcher, err := utils.NewPatternMatcher([]string{})
	if err != nil {
		t.Fatalf("failed with empty patterns: %v", err)
	}
	if matcher.Match("any.proj") {
		t.Error("empty patterns should not match anything")
	}

	matcher, _ = utils.NewPatternMatcher([]string{"my project.proj"})
	if !matcher.Match("my project.proj") {
		t.Error("should match file with spaces")
	}

	matcher, _ = utils.NewPatternMatcher([]string{"core-lib_2.0.proj"})
	if !matcher.Match("core-lib_2.0.proj") {
		t.Error("should match file with special characters")
	}
	if matcher.Match("core-lib_2x0.proj") {
		t.Error("dot should be literal")
	}

	// Unclosed bracket falls back to a literal match
	matcher, err = utils.NewPatternMatcher([]string{"lib[1.proj"})
	if err != nil {
		t.Fatalf("unclosed bracket should not fail: %v", err)
	}
	if !matcher.Match("lib[1.proj") {
		t.Error("unclosed bracket should match literally")
	}
}

func TestPatternMatcher_CaseSensitivity(t *testing.T) {
	matcher, _ := utils.NewPatternMatcher([]string{"*.PROJ"})

	if matcher.Match("app.proj") {
		t.Error("pattern matching should be case-sensitive")
	}

	if !matcher.Match("app.PROJ") {
		t.Error("should match exact case")
	}
}

func BenchmarkPatternMatcher_Match(b *testing.B) {
	matcher, _ := utils.NewPatternMatcher([]string{"**/*.proj", "vendor/**/*", "*.tmp"})
	paths := []string{
		"app.proj",
		"libs/core/core.proj",
		"vendor/acme/lib.proj",
		"notes.md",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range paths {
			matcher.Match(p)
		}
	}
}
