package enrich

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SkillEntry is a canonical skill with the aliases that map to it.
type SkillEntry struct {
	Name    string
	Aliases []string
}

// SkillsDictionary maps aliases to canonical skill names.
type SkillsDictionary struct {
	entries []SkillEntry
	lookup  map[string]string
	// multi-word aliases, matched as phrases
	phrases []string
}

// NewSkillsDictionary builds a dictionary from entries. Names and aliases are
// lower-cased; each canonical name is also its own alias.
func NewSkillsDictionary(entries []SkillEntry) *SkillsDictionary {
	d := &SkillsDictionary{lookup: make(map[string]string)}
	for _, e := range entries {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			continue
		}
		seen := map[string]bool{name: true}
		aliases := []string{name}
		for _, a := range e.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" && !seen[a] {
				seen[a] = true
				aliases = append(aliases, a)
			}
		}
		sort.Strings(aliases)
		d.entries = append(d.entries, SkillEntry{Name: name, Aliases: aliases})
		for _, a := range aliases {
			d.lookup[a] = name
			if strings.Contains(a, " ") {
				d.phrases = append(d.phrases, a)
			}
		}
	}
	return d
}

// DefaultSkillsDictionary is used when no dictionary file is configured.
func DefaultSkillsDictionary() *SkillsDictionary {
	return NewSkillsDictionary([]SkillEntry{
		{Name: "python"},
		{Name: "sql", Aliases: []string{"structured query language"}},
		{Name: "airflow", Aliases: []string{"apache airflow"}},
		{Name: "dbt", Aliases: []string{"data build tool"}},
		{Name: "tableau"},
		{Name: "docker"},
		{Name: "aws", Aliases: []string{"amazon web services"}},
		{Name: "spark", Aliases: []string{"apache spark"}},
		{Name: "pandas"},
		{Name: "machine learning", Aliases: []string{"ml"}},
	})
}

// LoadSkillsDictionary reads a YAML dictionary. Both layouts are accepted:
//
//	skills:
//	  sql:
//	    aliases: [structured query language]
//
// and a top-level mapping of canonical name to alias list. An empty path, a
// missing file or a file with no entries falls back to the defaults with a
// warning. Malformed YAML is an error.
func LoadSkillsDictionary(path string) (*SkillsDictionary, error) {
	if path == "" {
		return DefaultSkillsDictionary(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		zap.L().Warn("skills dictionary not found, using defaults", zap.String("path", path))
		return DefaultSkillsDictionary(), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: read skills dictionary %s", path)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "enrich: parse skills dictionary %s", path)
	}

	section := doc
	if node, ok := doc["skills"]; ok {
		section = nil
		if err := node.Decode(&section); err != nil {
			return nil, eris.Wrapf(err, "enrich: parse skills section %s", path)
		}
	}

	var entries []SkillEntry
	for name, node := range section {
		entries = append(entries, SkillEntry{Name: name, Aliases: decodeAliases(&node)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	dict := NewSkillsDictionary(entries)
	if len(dict.entries) == 0 {
		zap.L().Warn("skills dictionary has no entries, using defaults", zap.String("path", path))
		return DefaultSkillsDictionary(), nil
	}
	return dict, nil
}

func decodeAliases(node *yaml.Node) []string {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err == nil {
			return list
		}
	case yaml.MappingNode:
		var m struct {
			Aliases []string `yaml:"aliases"`
		}
		if err := node.Decode(&m); err == nil {
			return m.Aliases
		}
	}
	return nil
}

// Lookup maps a raw value to its canonical skill name.
func (d *SkillsDictionary) Lookup(raw string) (string, bool) {
	name, ok := d.lookup[strings.ToLower(strings.TrimSpace(raw))]
	return name, ok
}

// Entries returns the canonical entries.
func (d *SkillsDictionary) Entries() []SkillEntry {
	return d.entries
}

// SkillsExtractor derives canonical skills from provider lists and
// description text.
type SkillsExtractor struct {
	dict *SkillsDictionary
}

// NewSkillsExtractor returns an extractor over dict, or the default
// dictionary when dict is nil.
func NewSkillsExtractor(dict *SkillsDictionary) *SkillsExtractor {
	if dict == nil {
		dict = DefaultSkillsDictionary()
	}
	return &SkillsExtractor{dict: dict}
}

// Extract returns the sorted, unique skills for one posting. Provider skills
// map through the dictionary or are kept as cleaned free text. The
// description contributes dictionary phrases matched on word boundaries and
// single-token aliases.
func (e *SkillsExtractor) Extract(description string, skillsRaw []string) []string {
	found := make(map[string]struct{})
	for _, raw := range skillsRaw {
		if name, ok := e.dict.Lookup(raw); ok {
			found[name] = struct{}{}
			continue
		}
		if cleaned := strings.ToLower(strings.TrimSpace(raw)); cleaned != "" {
			found[cleaned] = struct{}{}
		}
	}

	tokens := tokenize(description)
	if len(tokens) > 0 {
		joined := " " + strings.Join(tokens, " ") + " "
		for _, phrase := range e.dict.phrases {
			if strings.Contains(joined, " "+phrase+" ") {
				found[e.dict.lookup[phrase]] = struct{}{}
			}
		}
		for _, tok := range tokens {
			if name, ok := e.dict.lookup[tok]; ok {
				found[name] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(found))
	for s := range found {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// tokenize lower-cases text and splits it on anything that is not a letter,
// digit, or the + and # that appear in names like c++ and c#.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r == '+' || r == '#':
			return false
		case r > 127:
			return false
		}
		return true
	})
}
