package profile

import (
	"strings"
	"unicode"

	"github.com/paw2paw/hf-behavior/go-controller/internal/rules"
)

// KeyVariants returns the keys tried, in order, when resolving a profile key:
// the literal key, its camelCase form, then its snake_case form. Duplicates are
// removed, so a key already in canonical form yields fewer variants.
func KeyVariants(key string) []string {
	variants := []string{key}
	for _, v := range []string{CamelCase(key), SnakeCase(key)} {
		if v == "" {
			continue
		}
		dup := false
		for _, seen := range variants {
			if seen == v {
				dup = true
				break
			}
		}
		if !dup {
			variants = append(variants, v)
		}
	}
	return variants
}

// Lookup resolves key in values using KeyVariants. A missing key yields the absent Value.
func Lookup(values map[string]rules.Value, key string) rules.Value {
	if key == "" {
		return rules.Null()
	}
	for _, k := range KeyVariants(key) {
		if v, ok := values[k]; ok {
			return v
		}
	}
	return rules.Null()
}

// CamelCase converts snake_case or kebab-case to lowerCamelCase ("anxiety_level" -> "anxietyLevel").
func CamelCase(s string) string {
	if !strings.ContainsAny(s, "_-") {
		return s
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' })
	var b strings.Builder
	for i, p := range parts {
		if i == 0 {
			b.WriteString(p)
			continue
		}
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// SnakeCase converts camelCase to snake_case ("anxietyLevel" -> "anxiety_level").
// Runs of capitals stay together ("openAIScore" -> "open_ai_score").
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' {
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}
