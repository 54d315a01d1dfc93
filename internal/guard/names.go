package guard

import (
	"regexp"
	"strings"

	"github.com/sentinel-trading/sentinel/internal/solana"
)

// ---------------------------------------------------------------------------
// Name filter — zero-cost token name heuristics
// ---------------------------------------------------------------------------

// Scam naming conventions seen repeatedly in rug launches.
var scamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^safe.*(moon|mars|elon)`),
	regexp.MustCompile(`(?i)(eloncum|elonmusk|dogelon)`),
	regexp.MustCompile(`(?i)^(test|debug|fake)\s`),
	regexp.MustCompile(`(?i)(honeypot|rugpull|scam)`),
	regexp.MustCompile(`(?i)^(free|airdrop|claim)\s`),
	regexp.MustCompile(`(?i)(giveaway|whitelist\s*spot|presale\s*bonus)`),
}

// Lazy auto-generated names: "Token", "Token 42", "Token #7".
var genericTokenPattern = regexp.MustCompile(`(?i)^token\s*#?\d*$`)

// Any character repeated 5+ times in a row.
var repeatedCharPattern = regexp.MustCompile(`(.)\1{4,}`)

// Top token names that scammers impersonate.
var impersonationNames = map[string]bool{
	"bitcoin": true, "ethereum": true, "solana": true, "usdc": true,
	"usdt": true, "bonk": true, "wif": true, "jup": true,
	"raydium": true, "jupiter": true, "marinade": true,
}

// checkName applies the name heuristics to a token. No external calls.
func checkName(token *solana.TokenInfo) Result {
	// Padding itself is a tell; check before any normalization.
	if token.Name != strings.TrimSpace(token.Name) {
		return Result{Allowed: false, Reason: "leading or trailing whitespace in name", Check: "name_spacing"}
	}

	name := strings.TrimSpace(token.Name)
	symbol := strings.TrimSpace(token.Symbol)
	lowerName := strings.ToLower(name)
	lowerSymbol := strings.ToLower(symbol)

	// Too short to be a real launch.
	if len([]rune(name)) <= 2 {
		return Result{Allowed: false, Reason: "token name too short", Check: "name_length"}
	}

	// Multiple consecutive spaces hide padding tricks.
	if strings.Contains(name, "  ") {
		return Result{Allowed: false, Reason: "consecutive spaces in name", Check: "name_spacing"}
	}

	// Zero-width and invisible characters spoof legitimate names.
	for _, r := range name + symbol {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return Result{Allowed: false, Reason: "invisible characters in name", Check: "name_unicode"}
		}
		// Cyrillic lookalikes.
		if (r >= 0x0400 && r <= 0x04FF) || (r >= 0x0500 && r <= 0x052F) {
			return Result{Allowed: false, Reason: "suspicious unicode characters in name (Cyrillic)", Check: "name_unicode"}
		}
	}

	if repeatedCharPattern.MatchString(lowerName) {
		return Result{Allowed: false, Reason: "repeated character run in name", Check: "name_repeat"}
	}

	if genericTokenPattern.MatchString(name) {
		return Result{Allowed: false, Reason: "generic auto-generated name", Check: "name_generic"}
	}

	for _, p := range scamPatterns {
		if p.MatchString(lowerName) || p.MatchString(lowerSymbol) {
			return Result{Allowed: false, Reason: "matches scam name pattern: " + p.String(), Check: "name_pattern"}
		}
	}

	if impersonationNames[lowerName] || impersonationNames[lowerSymbol] {
		return Result{Allowed: false, Reason: "impersonates known token: " + lowerName, Check: "name_impersonation"}
	}

	return Result{Allowed: true}
}
