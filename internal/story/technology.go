package story

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"workstories/internal/domain"
	"workstories/internal/tokens"
)

// Catalog maps file extensions, content patterns and label names onto
// technology names. It can be extended from a YAML file.
type Catalog struct {
	Extensions map[string]string   `yaml:"extensions"`
	Patterns   map[string][]string `yaml:"patterns"`
	Complexity ComplexityWords     `yaml:"complexity"`

	compiled map[string][]*regexp.Regexp
}

type ComplexityWords struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
	Low    []string `yaml:"low"`
}

func DefaultCatalog() *Catalog {
	c := &Catalog{
		Extensions: map[string]string{
			".py": "Python", ".js": "JavaScript", ".ts": "TypeScript", ".java": "Java",
			".cs": "C#", ".cpp": "C++", ".c": "C", ".go": "Go", ".rs": "Rust",
			".php": "PHP", ".rb": "Ruby", ".swift": "Swift", ".kt": "Kotlin",
			".scala": "Scala", ".sql": "SQL", ".html": "HTML", ".css": "CSS",
			".scss": "SCSS", ".vue": "Vue.js", ".jsx": "React", ".tsx": "React",
			".yaml": "YAML", ".yml": "YAML", ".tf": "Terraform", ".sh": "Shell",
			".ps1": "PowerShell", ".dart": "Dart", ".proto": "Protocol Buffers",
		},
		Patterns: map[string][]string{
			"React":          {`\breact\b`, `\bjsx\b`, `\btsx\b`},
			"Vue.js":         {`\bvue(\.?js)?\b`},
			"Angular":        {`\bangular\b`, `@angular`},
			"Next.js":        {`\bnext\.?js\b`},
			"Svelte":         {`\bsvelte\b`},
			"FastAPI":        {`\bfastapi\b`, `\bfast-api\b`},
			"Django":         {`\bdjango\b`},
			"Flask":          {`\bflask\b`},
			"Express.js":     {`\bexpress\.?js\b`},
			"Spring":         {`\bspring ?boot\b`, `\bspring-`},
			"Laravel":        {`\blaravel\b`},
			"Rails":          {`\bruby on rails\b`, `\brails\b`},
			"PostgreSQL":     {`\bpostgres(ql)?\b`, `\bpsql\b`},
			"MySQL":          {`\bmysql\b`},
			"MongoDB":        {`\bmongo(db)?\b`},
			"Redis":          {`\bredis\b`},
			"SQLite":         {`\bsqlite3?\b`},
			"Elasticsearch":  {`\belasticsearch\b`},
			"Kafka":          {`\bkafka\b`},
			"Docker":         {`\bdocker(file)?\b`},
			"Kubernetes":     {`\bk8s\b`, `\bkubernetes\b`, `\bkubectl\b`, `\bhelm\b`},
			"AWS":            {`\baws\b`, `\bamazon web services\b`},
			"Azure":          {`\bazure\b`},
			"GCP":            {`\bgcp\b`, `\bgoogle cloud\b`},
			"Terraform":      {`\bterraform\b`},
			"Jenkins":        {`\bjenkins\b`},
			"GitLab CI":      {`\bgitlab.?ci\b`, `\.gitlab-ci`},
			"GitHub Actions": {`\bgithub.?actions\b`, `\.github/workflows`},
			"Jest":           {`\bjest\b`},
			"Pytest":         {`\bpytest\b`},
			"JUnit":          {`\bjunit\b`},
			"Cypress":        {`\bcypress\b`},
			"Selenium":       {`\bselenium\b`},
			"Webpack":        {`\bwebpack\b`},
			"Vite":           {`\bvite\b`},
			"GraphQL":        {`\bgraphql\b`},
			"gRPC":           {`\bgrpc\b`},
			"React Native":   {`\breact.?native\b`},
			"Flutter":        {`\bflutter\b`},
			"Android":        {`\bandroid\b`},
			"iOS":            {`\bios\b`},
		},
		Complexity: ComplexityWords{
			High:   []string{"microservice", "distributed", "scalable", "architecture", "performance", "optimization", "migration"},
			Medium: []string{"api", "integration", "database", "authentication", "security"},
			Low:    []string{"typo", "minor", "cleanup", "bump", "rename"},
		},
	}
	c.compile()
	return c
}

// LoadCatalog reads a YAML catalog and merges it over the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read technology catalog: %w", err)
	}
	var extra Catalog
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse technology catalog yaml: %w", err)
	}
	c := DefaultCatalog()
	for ext, tech := range extra.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Extensions[ext] = tech
	}
	for tech, patterns := range extra.Patterns {
		c.Patterns[tech] = patterns
	}
	if len(extra.Complexity.High) > 0 {
		c.Complexity.High = extra.Complexity.High
	}
	if len(extra.Complexity.Medium) > 0 {
		c.Complexity.Medium = extra.Complexity.Medium
	}
	if len(extra.Complexity.Low) > 0 {
		c.Complexity.Low = extra.Complexity.Low
	}
	for tech, patterns := range c.Patterns {
		for _, p := range patterns {
			if _, err := regexp.Compile("(?i)" + p); err != nil {
				return nil, fmt.Errorf("technology %q pattern %q: %w", tech, p, err)
			}
		}
	}
	c.compile()
	return c, nil
}

func (c *Catalog) compile() {
	c.compiled = make(map[string][]*regexp.Regexp, len(c.Patterns))
	for tech, patterns := range c.Patterns {
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				continue
			}
			c.compiled[tech] = append(c.compiled[tech], re)
		}
	}
}

// Detect returns the sorted technologies evidenced by one item: explicit
// metadata tags, changed-file extensions, content patterns and labels.
func (c *Catalog) Detect(it domain.EvidenceItem) []string {
	found := make(map[string]bool)
	for _, t := range it.Metadata.Technologies {
		if t = strings.TrimSpace(t); t != "" {
			found[t] = true
		}
	}
	for _, f := range it.Metadata.Files {
		if strings.EqualFold(filepath.Base(f), "dockerfile") {
			found["Docker"] = true
			continue
		}
		if tech, ok := c.Extensions[strings.ToLower(filepath.Ext(f))]; ok {
			found[tech] = true
		}
	}
	text := it.Text()
	for tech, res := range c.compiled {
		for _, re := range res {
			if re.MatchString(text) {
				found[tech] = true
				break
			}
		}
	}
	for _, label := range it.Metadata.Labels {
		for tech, res := range c.compiled {
			if strings.EqualFold(label, tech) {
				found[tech] = true
				continue
			}
			for _, re := range res {
				if re.MatchString(label) {
					found[tech] = true
					break
				}
			}
		}
	}
	return sortedKeys(found)
}

// ContentScore is the complexity adjustment from indicator words across all
// items, in [-0.1, 0.15]. A word matches any token it prefixes.
func (c *Catalog) ContentScore(items []domain.EvidenceItem) float64 {
	seen := make(map[string]bool)
	for _, it := range items {
		for _, tok := range tokens.Tokenize(it.Text()) {
			seen[tok] = true
		}
	}
	has := func(w string) bool {
		w = strings.ToLower(w)
		for tok := range seen {
			if strings.HasPrefix(tok, w) {
				return true
			}
		}
		return false
	}
	score := 0.0
	for _, w := range c.Complexity.High {
		if has(w) {
			score += 0.05
		}
	}
	for _, w := range c.Complexity.Medium {
		if has(w) {
			score += 0.03
		}
	}
	for _, w := range c.Complexity.Low {
		if has(w) {
			score -= 0.02
		}
	}
	return clamp(score, -0.1, 0.15)
}

// metadataTechnologies is the stack reported when catalog detection is off.
func metadataTechnologies(items []domain.EvidenceItem) []string {
	found := make(map[string]bool)
	for _, it := range items {
		for _, t := range it.Metadata.Technologies {
			if t = strings.TrimSpace(t); t != "" {
				found[t] = true
			}
		}
	}
	return sortedKeys(found)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
