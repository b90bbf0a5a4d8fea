package models

import "strings"

// Category classifies a finding into the closed scangate taxonomy.
type Category string

const (
	CategoryDependencyVuln  Category = "dependency-vulnerability"
	CategorySecretsExposure Category = "secrets-exposure"
	CategoryInjectionRisk   Category = "injection-risk"
	CategoryAuthnWeakness   Category = "authentication-weakness"
	CategoryAuthzBypass     Category = "authorization-bypass"
	CategoryCryptoWeakness  Category = "cryptography-weakness"
	CategoryConfigIssue     Category = "configuration-issue"
	CategoryCodeQuality     Category = "code-quality"
)

// categoryKeywords maps rule-id / tool-type substrings to categories.
// Lookup is case-insensitive, first match wins in declaration order.
var categoryKeywords = []struct {
	keyword  string
	category Category
}{
	{"injection", CategoryInjectionRisk},
	{"sqli", CategoryInjectionRisk},
	{"xss", CategoryInjectionRisk},
	{"command-exec", CategoryInjectionRisk},
	{"secret", CategorySecretsExposure},
	{"credential", CategorySecretsExposure},
	{"hardcoded-password", CategorySecretsExposure},
	{"api-key", CategorySecretsExposure},
	{"authz", CategoryAuthzBypass},
	{"authorization", CategoryAuthzBypass},
	{"access-control", CategoryAuthzBypass},
	{"auth", CategoryAuthnWeakness},
	{"session", CategoryAuthnWeakness},
	{"crypto", CategoryCryptoWeakness},
	{"cipher", CategoryCryptoWeakness},
	{"tls", CategoryCryptoWeakness},
	{"hash", CategoryCryptoWeakness},
	{"random", CategoryCryptoWeakness},
	{"misconfig", CategoryConfigIssue},
	{"config", CategoryConfigIssue},
	{"permission", CategoryConfigIssue},
	{"cve-", CategoryDependencyVuln},
	{"ghsa-", CategoryDependencyVuln},
	{"vuln", CategoryDependencyVuln},
}

// toolKindCategory maps a tool's finding kind (sca/sast/secrets/iac) to the
// category used when the rule id itself is not classifiable.
var toolKindCategory = map[string]Category{
	"sca":     CategoryDependencyVuln,
	"secrets": CategorySecretsExposure,
	"iac":     CategoryConfigIssue,
}

// ClassifyCategory assigns a taxonomy category from a rule id and the
// reporting tool's finding kind. Unmapped rules fall back to code-quality
// with needsReview=true so they surface for manual classification instead of
// being dropped.
func ClassifyCategory(ruleID, toolKind string) (cat Category, needsReview bool) {
	lower := strings.ToLower(ruleID)
	for _, kw := range categoryKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.category, false
		}
	}
	if c, ok := toolKindCategory[strings.ToLower(toolKind)]; ok {
		return c, false
	}
	return CategoryCodeQuality, true
}

// ValidCategory reports whether c is part of the closed taxonomy.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryDependencyVuln, CategorySecretsExposure, CategoryInjectionRisk,
		CategoryAuthnWeakness, CategoryAuthzBypass, CategoryCryptoWeakness,
		CategoryConfigIssue, CategoryCodeQuality:
		return true
	}
	return false
}
