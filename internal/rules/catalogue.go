package rules

import (
	"time"

	"github.com/hakim/seceval/internal/models"
)

// CatalogueVersion is stamped on exported bundles.
const CatalogueVersion = "1.0.0"

var (
	webLangs    = []string{"javascript", "typescript", "html"}
	scriptLangs = []string{"javascript", "typescript"}
	serverLangs = []string{"javascript", "typescript", "python", "java", "php", "csharp"}
)

func cweRef(n string) string {
	return "https://cwe.mitre.org/data/definitions/" + n + ".html"
}

// BuiltinRules returns a fresh copy of the shipped rule catalogue.
func BuiltinRules() []models.Rule {
	rules := []models.Rule{
		{
			ID:          "SEC001",
			Name:        "SQL injection",
			Description: "SQL statement assembled by string concatenation or interpolation",
			Severity:    models.SeverityCritical,
			Category:    "injection",
			Languages:   serverLangs,
			Pattern:     regex(`(?i)(?:SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER).*(?:WHERE|SET|VALUES).*(?:\$|\+|concat|\|\|)`),
			CWE:         "CWE-89",
			RiskScore:   9.8,
			Tags:        []string{"injection", "database", "sql"},
			Docs: models.RuleDocs{
				Vulnerable: "query = 'SELECT * FROM users WHERE id = ' + userId",
				Secure:     "query = 'SELECT * FROM users WHERE id = ?'; db.query(query, [userId])",
				References: []string{"https://owasp.org/www-community/attacks/SQL_Injection", cweRef("89")},
			},
		},
		{
			ID:          "SEC002",
			Name:        "DOM cross-site scripting",
			Description: "User input concatenated into innerHTML",
			Severity:    models.SeverityHigh,
			Category:    "xss",
			Languages:   webLangs,
			Pattern:     regex(`innerHTML\s*[=:]\s*[^;]*(?:\+|\$\{|concat)`),
			CWE:         "CWE-79",
			RiskScore:   7.5,
			Tags:        []string{"xss", "web", "dom"},
			Docs: models.RuleDocs{
				Vulnerable: "element.innerHTML = '<div>' + userInput + '</div>'",
				Secure:     "element.textContent = userInput",
				References: []string{"https://owasp.org/www-community/attacks/xss/", cweRef("79")},
			},
		},
		{
			ID:          "SEC003",
			Name:        "Hardcoded credential",
			Description: "Password, key or token literal assigned in source",
			Severity:    models.SeverityHigh,
			Category:    "credentials",
			Languages:   serverLangs,
			Pattern:     regex(`(?i)(?:password|pwd|pass|secret|key|token|api_key)\s*[=:]\s*['"][^'"]{8,}['"]`),
			CWE:         "CWE-798",
			RiskScore:   7.8,
			Tags:        []string{"credentials", "secrets", "hardcoded"},
			Docs: models.RuleDocs{
				Vulnerable: "const password = 'hardcoded123'",
				Secure:     "const password = process.env.PASSWORD",
				References: []string{cweRef("798")},
			},
		},
		{
			ID:          "SEC004",
			Name:        "Insecure random number generator",
			Description: "Math.random used where unpredictability matters",
			Severity:    models.SeverityMedium,
			Category:    "crypto",
			Languages:   scriptLangs,
			Pattern:     regex(`Math\.random\(\)`),
			CWE:         "CWE-338",
			RiskScore:   5.3,
			Tags:        []string{"crypto", "random", "predictable"},
			Docs: models.RuleDocs{
				Vulnerable: "const token = Math.random().toString(36)",
				Secure:     "const token = crypto.randomBytes(32).toString('hex')",
				References: []string{cweRef("338")},
			},
		},
		{
			ID:          "SEC005",
			Name:        "eval usage",
			Description: "Dynamic code evaluation with eval",
			Severity:    models.SeverityCritical,
			Category:    "injection",
			Languages:   scriptLangs,
			Pattern:     models.Pattern{Kind: models.PatternAST, Expression: "eval ("},
			CWE:         "CWE-95",
			RiskScore:   9.0,
			Tags:        []string{"injection", "eval", "code-execution"},
			Docs: models.RuleDocs{
				Vulnerable: "eval(userInput)",
				Secure:     "JSON.parse(userInput)",
				References: []string{cweRef("95")},
			},
		},
		{
			ID:          "SEC006",
			Name:        "Unrestricted file upload",
			Description: "Upload handling that accepts executable file types",
			Severity:    models.SeverityHigh,
			Category:    "file_handling",
			Languages:   []string{"javascript", "typescript", "python", "java", "php"},
			Pattern:     regex(`(?i)upload.*\.(exe|bat|cmd|sh|php|jsp|asp|aspx)$`),
			CWE:         "CWE-434",
			RiskScore:   8.1,
			Tags:        []string{"file-upload", "validation"},
			Docs: models.RuleDocs{
				Vulnerable: "fs.writeFile(uploadPath + filename, data)",
				Secure:     "if (allowedTypes.includes(fileType)) { fs.writeFile(sanitizedPath, data) }",
				References: []string{cweRef("434")},
			},
		},
		{
			ID:          "SEC007",
			Name:        "Weak password policy",
			Description: "Password length check below eight characters",
			Severity:    models.SeverityMedium,
			Category:    "auth",
			Languages:   []string{"javascript", "typescript", "python", "java"},
			Pattern:     regex(`(?i)password.*length.*[<>]\s*[1-7]\b`),
			CWE:         "CWE-521",
			RiskScore:   6.5,
			Tags:        []string{"password", "policy", "weak"},
			Docs: models.RuleDocs{
				Vulnerable: "if (password.length > 4) {",
				Secure:     "if (password.length >= 12 && /[A-Z]/.test(password) && /[0-9]/.test(password)) {",
				References: []string{cweRef("521")},
			},
		},
		{
			ID:          "SEC008",
			Name:        "Cleartext transport of sensitive data",
			Description: "Plain http URL used for login, password, token or API calls",
			Severity:    models.SeverityMedium,
			Category:    "configuration",
			Languages:   webLangs,
			Pattern:     regex(`(?i)http://.*(?:login|password|token|api)`),
			CWE:         "CWE-319",
			RiskScore:   5.9,
			Tags:        []string{"http", "encryption", "transport"},
			Docs: models.RuleDocs{
				Vulnerable: "fetch('http://api.example.com/login', { method: 'POST' })",
				Secure:     "fetch('https://api.example.com/login', { method: 'POST' })",
				References: []string{cweRef("319")},
			},
		},
		{
			ID:          "SEC009",
			Name:        "Missing CSRF protection",
			Description: "POST form without a CSRF token field on the same line",
			Severity:    models.SeverityMedium,
			Category:    "csrf",
			Languages:   []string{"html", "javascript", "typescript"},
			// RE2 has no lookahead: the tail after the form tag must not spell "csrf".
			Pattern:   regex(`(?i)<form[^>]*method\s*=\s*['"]post['"][^>]*>(?:[^c]|c[^s]|cs[^r]|csr[^f])*(?:c|cs|csr)?$`),
			CWE:       "CWE-352",
			RiskScore: 6.5,
			Tags:      []string{"csrf", "form", "token"},
			Docs: models.RuleDocs{
				Vulnerable: "<form method='post' action='/transfer'>",
				Secure:     "<form method='post' action='/transfer'><input type='hidden' name='csrf_token' value='...'>",
				References: []string{cweRef("352")},
			},
		},
		{
			ID:          "SEC010",
			Name:        "Session id in URL",
			Description: "Session identifier passed as a URL query parameter",
			Severity:    models.SeverityMedium,
			Category:    "session",
			Languages:   []string{"javascript", "typescript", "php"},
			Pattern:     regex(`(?i)(?:sessionid|jsessionid).*[?&]|[?&](?:sessionid|jsessionid)=`),
			CWE:         "CWE-384",
			RiskScore:   6.1,
			Tags:        []string{"session", "url", "exposure"},
			Docs: models.RuleDocs{
				Vulnerable: "window.location = '/page?sessionid=' + sessionId",
				Secure:     "keep the session id in an HttpOnly, Secure cookie",
				References: []string{cweRef("384")},
			},
		},
	}

	for i := range rules {
		rules[i].Enabled = true
		rules[i].Origin = models.OriginBuiltin
		rules[i] = rules[i].Clone()
	}
	return rules
}

// BuiltinCategories returns the default category list.
func BuiltinCategories() []models.Category {
	return []models.Category{
		{ID: "injection", Name: "Injection", Description: "SQL, command and code injection", Color: "#ff4d4f", Icon: "bug"},
		{ID: "xss", Name: "Cross-site scripting", Description: "Script injection into rendered pages", Color: "#fa8c16", Icon: "code"},
		{ID: "csrf", Name: "Cross-site request forgery", Description: "State-changing requests without origin checks", Color: "#faad14", Icon: "swap"},
		{ID: "auth", Name: "Authentication", Description: "Authentication and authorization weaknesses", Color: "#52c41a", Icon: "lock"},
		{ID: "crypto", Name: "Cryptography", Description: "Algorithms, randomness and key handling", Color: "#1890ff", Icon: "safety"},
		{ID: "credentials", Name: "Credentials", Description: "Passwords, keys and other secrets", Color: "#722ed1", Icon: "key"},
		{ID: "input_validation", Name: "Input validation", Description: "Missing validation or filtering of input", Color: "#eb2f96", Icon: "filter"},
		{ID: "file_handling", Name: "File handling", Description: "Upload, download and file processing", Color: "#13c2c2", Icon: "file"},
		{ID: "session", Name: "Session management", Description: "Session lifecycle and exposure", Color: "#a0d911", Icon: "clock-circle"},
		{ID: "configuration", Name: "Configuration", Description: "Deployment and transport configuration", Color: "#f759ab", Icon: "setting"},
	}
}

// BuiltinRuleSets returns the default rule sets stamped with now.
func BuiltinRuleSets(now time.Time) []models.RuleSet {
	common := []string{"javascript", "typescript", "python", "java", "php"}
	return []models.RuleSet{
		{
			ID:          "owasp-top10",
			Name:        "OWASP Top 10",
			Description: "Rules covering the OWASP Top 10 risks",
			Version:     "2021",
			Author:      "OWASP",
			RuleIDs:     []string{"SEC001", "SEC002", "SEC003", "SEC006", "SEC008", "SEC009"},
			Enabled:     true,
			Tags:        []string{"owasp", "top10", "standard"},
			Languages:   common,
			Categories:  []string{"injection", "xss", "credentials", "file_handling", "configuration", "csrf"},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "web-security",
			Name:        "Web application security",
			Description: "Common web application weaknesses",
			Version:     "1.0",
			Author:      "seceval",
			RuleIDs:     []string{"SEC001", "SEC002", "SEC005", "SEC008", "SEC009", "SEC010"},
			Enabled:     true,
			Tags:        []string{"web", "security", "frontend"},
			Languages:   []string{"javascript", "typescript", "html"},
			Categories:  []string{"injection", "xss", "configuration", "csrf", "session"},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "crypto-security",
			Name:        "Cryptography",
			Description: "Algorithm and key management rules",
			Version:     "1.0",
			Author:      "seceval",
			RuleIDs:     []string{"SEC003", "SEC004"},
			Enabled:     true,
			Tags:        []string{"crypto", "encryption", "keys"},
			Languages:   []string{"javascript", "typescript", "python", "java"},
			Categories:  []string{"crypto", "credentials"},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "critical-only",
			Name:        "Critical only",
			Description: "Critical severity rules only",
			Version:     "1.0",
			Author:      "seceval",
			RuleIDs:     []string{"SEC001", "SEC005"},
			Enabled:     true,
			Tags:        []string{"critical", "high-priority"},
			Languages:   common,
			Categories:  []string{"injection"},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

func regex(expr string) models.Pattern {
	return models.Pattern{Kind: models.PatternRegex, Expression: expr}
}
