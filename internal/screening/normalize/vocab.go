package normalize

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hiregate/screening/pkg/textx"
)

//go:embed vocab.yaml
var vocabYAML []byte

type vocabFile struct {
	Skills []struct {
		Name    string   `yaml:"name"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"skills"`
	Languages []struct {
		Code  string   `yaml:"code"`
		Names []string `yaml:"names"`
	} `yaml:"languages"`
}

// Vocabulary holds the canonical skill and language name tables.
type Vocabulary struct {
	// canonical skill name -> itself, alias -> canonical name
	skillByToken map[string]string
	// language name token -> ISO code
	langByToken map[string]string
}

// LoadVocabulary parses the embedded vocabulary file.
func LoadVocabulary() (*Vocabulary, error) {
	var f vocabFile
	if err := yaml.Unmarshal(vocabYAML, &f); err != nil {
		return nil, fmt.Errorf("op=normalize.vocab: %w", err)
	}
	v := &Vocabulary{skillByToken: map[string]string{}, langByToken: map[string]string{}}
	for _, s := range f.Skills {
		canon := textx.Fold(s.Name)
		if canon == "" {
			continue
		}
		v.skillByToken[canon] = s.Name
		for _, a := range s.Aliases {
			if t := textx.Fold(a); t != "" {
				v.skillByToken[t] = s.Name
			}
		}
	}
	for _, l := range f.Languages {
		for _, n := range l.Names {
			if t := textx.Fold(n); t != "" {
				v.langByToken[t] = l.Code
			}
		}
		v.langByToken[textx.Fold(l.Code)] = l.Code
	}
	return v, nil
}

// CanonicalSkill resolves a raw token to its canonical skill name.
func (v *Vocabulary) CanonicalSkill(token string) (string, bool) {
	s, ok := v.skillByToken[textx.Fold(token)]
	return s, ok
}

// LangCode resolves a language name token to its ISO code.
func (v *Vocabulary) LangCode(token string) (string, bool) {
	c, ok := v.langByToken[textx.Fold(token)]
	return c, ok
}

// SkillTokens returns every known token (canonical names and aliases).
func (v *Vocabulary) SkillTokens() []string {
	out := make([]string, 0, len(v.skillByToken))
	for t := range v.skillByToken {
		out = append(out, t)
	}
	return out
}
