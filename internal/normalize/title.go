package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/speedrun-cli/internal/model"
)

// Synonym maps a folded title phrase to its canonical token.
type Synonym struct {
	Token string
	Tier  model.SeniorityTier
}

// DefaultSynonyms is the maintained synonym table. Keys are folded phrases as
// produced by foldTitle; several keys may share a Token.
var DefaultSynonyms = map[string]Synonym{
	"ceo":                                 {"ceo", model.TierCLevel},
	"chief executive officer":             {"ceo", model.TierCLevel},
	"chief executive":                     {"ceo", model.TierCLevel},
	"founder and ceo":                     {"ceo", model.TierCLevel},
	"co founder and ceo":                  {"ceo", model.TierCLevel},
	"cto":                                 {"cto", model.TierCLevel},
	"chief technology officer":            {"cto", model.TierCLevel},
	"chief technical officer":             {"cto", model.TierCLevel},
	"cfo":                                 {"cfo", model.TierCLevel},
	"chief financial officer":             {"cfo", model.TierCLevel},
	"chief finance officer":               {"cfo", model.TierCLevel},
	"coo":                                 {"coo", model.TierCLevel},
	"chief operating officer":             {"coo", model.TierCLevel},
	"chief operations officer":            {"coo", model.TierCLevel},
	"cio":                                 {"cio", model.TierCLevel},
	"chief information officer":           {"cio", model.TierCLevel},
	"ciso":                                {"ciso", model.TierCLevel},
	"chief information security officer":  {"ciso", model.TierCLevel},
	"chief security officer":              {"ciso", model.TierCLevel},
	"cro":                                 {"cro", model.TierCLevel},
	"chief revenue officer":               {"cro", model.TierCLevel},
	"cmo":                                 {"cmo", model.TierCLevel},
	"chief marketing officer":             {"cmo", model.TierCLevel},
	"cpo":                                 {"cpo", model.TierCLevel},
	"chief product officer":               {"cpo", model.TierCLevel},
	"chief procurement officer":           {"chief procurement officer", model.TierCLevel},
	"clo":                                 {"general counsel", model.TierCLevel},
	"chief legal officer":                 {"general counsel", model.TierCLevel},
	"general counsel":                     {"general counsel", model.TierCLevel},
	"chief of staff":                      {"chief of staff", model.TierDirector},
	"founder":                             {"founder", model.TierCLevel},
	"co founder":                          {"founder", model.TierCLevel},
	"cofounder":                           {"founder", model.TierCLevel},
	"president":                           {"president", model.TierCLevel},
	"owner":                               {"owner", model.TierCLevel},
	"vp engineering":                      {"vp engineering", model.TierVP},
	"vp eng":                              {"vp engineering", model.TierVP},
	"vp of engineering":                   {"vp engineering", model.TierVP},
	"svp engineering":                     {"vp engineering", model.TierVP},
	"vp sales":                            {"vp sales", model.TierVP},
	"vp of sales":                         {"vp sales", model.TierVP},
	"svp sales":                           {"vp sales", model.TierVP},
	"vp finance":                          {"vp finance", model.TierVP},
	"vp of finance":                       {"vp finance", model.TierVP},
	"vp operations":                       {"vp operations", model.TierVP},
	"vp of operations":                    {"vp operations", model.TierVP},
	"head of procurement":                 {"head of procurement", model.TierDirector},
	"procurement manager":                 {"procurement manager", model.TierManager},
	"purchasing manager":                  {"procurement manager", model.TierManager},
	"engineering manager":                 {"engineering manager", model.TierManager},
	"manager engineering":                 {"engineering manager", model.TierManager},
	"software engineering manager":        {"engineering manager", model.TierManager},
	"account executive":                   {"account executive", model.TierIC},
	"ae":                                  {"account executive", model.TierIC},
	"sdr":                                 {"sales development representative", model.TierIC},
	"sales development representative":    {"sales development representative", model.TierIC},
	"bdr":                                 {"business development representative", model.TierIC},
	"business development representative": {"business development representative", model.TierIC},
	"software engineer":                   {"software engineer", model.TierIC},
	"software developer":                  {"software engineer", model.TierIC},
	"swe":                                 {"software engineer", model.TierIC},
	"controller":                          {"controller", model.TierDirector},
	"financial controller":                {"controller", model.TierDirector},
}

// legalSuffixes are trailing entity designators removed from titles such as
// "Founder, Acme Holdings LLC".
var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "llc": true, "llp": true, "ltd": true,
	"limited": true, "corp": true, "corporation": true, "gmbh": true, "plc": true,
	"ag": true, "sa": true, "bv": true, "nv": true, "pty": true, "srl": true,
}

// abbreviations expand common title shorthands token by token.
var abbreviations = map[string]string{
	"sr":   "senior",
	"snr":  "senior",
	"jr":   "junior",
	"mgr":  "manager",
	"dir":  "director",
	"ops":  "operations",
	"engr": "engineer",
	"mktg": "marketing",
}

// fold lower-cases s and strips diacritics.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Lower(language.Und).String(out)
}

// foldTitle reduces a raw title to space-separated lowercase tokens: company
// mentions after " at " or "@" are dropped, punctuation becomes whitespace,
// abbreviations are expanded, "vice president" becomes "vp" and trailing
// legal-entity suffixes are stripped.
func foldTitle(raw string) string {
	s := fold(raw)
	for _, sep := range []string{" at ", "@", " | "} {
		if i := strings.Index(s, sep); i > 0 {
			s = s[:i]
		}
	}
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	tokens := strings.Fields(s)
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok == "vice" && i+1 < len(tokens) && tokens[i+1] == "president" {
			out = append(out, "vp")
			i++
			continue
		}
		if full, ok := abbreviations[tok]; ok {
			tok = full
		}
		out = append(out, tok)
	}
	for len(out) > 1 && legalSuffixes[out[len(out)-1]] {
		out = out[:len(out)-1]
	}
	return strings.Join(out, " ")
}

// containsPhrase reports whether phrase occurs in tokens as a contiguous run
// of whole words.
func containsPhrase(tokens []string, phrase string) bool {
	want := strings.Fields(phrase)
	if len(want) == 0 || len(want) > len(tokens) {
		return false
	}
	for i := 0; i+len(want) <= len(tokens); i++ {
		match := true
		for j, w := range want {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func containsAny(tokens []string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(tokens, p) {
			return true
		}
	}
	return false
}

var (
	cLevelWords   = []string{"chief", "ceo", "cto", "cfo", "coo", "cio", "ciso", "cmo", "cro", "cpo", "president", "founder", "cofounder", "owner"}
	vpWords       = []string{"vp", "svp", "evp", "avp"}
	directorWords = []string{"director", "head"}
	managerWords  = []string{"manager", "lead", "supervisor", "team lead"}
)

// inferTier applies keyword heuristics to a folded title.
func inferTier(tokens []string) model.SeniorityTier {
	switch {
	case containsAny(tokens, vpWords):
		return model.TierVP
	case containsAny(tokens, cLevelWords):
		return model.TierCLevel
	case containsAny(tokens, directorWords):
		return model.TierDirector
	case containsAny(tokens, managerWords):
		return model.TierManager
	default:
		return model.TierIC
	}
}

// tierFromHint maps a provider seniority hint to a tier.
func tierFromHint(hint string) (model.SeniorityTier, bool) {
	switch strings.NewReplacer("-", "_", " ", "_").Replace(fold(strings.TrimSpace(hint))) {
	case "c_suite", "c_level", "cxo", "owner", "founder", "partner", "executive":
		return model.TierCLevel, true
	case "vp", "vice_president":
		return model.TierVP, true
	case "director", "head":
		return model.TierDirector, true
	case "manager":
		return model.TierManager, true
	case "senior", "entry", "ic", "individual_contributor", "training", "unpaid":
		return model.TierIC, true
	default:
		return model.TierIC, false
	}
}
