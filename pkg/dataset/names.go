package dataset

import "strings"

var specialWikis = map[string]string{
	"advisorywiki":     "Advisory Board wiki",
	"betawikiversity":  "Beta Wikiversity",
	"commonswiki":      "Wikimedia Commons",
	"donatewiki":       "Donate Wiki",
	"fdcwiki":          "Wikimedia FDC",
	"foundationwiki":   "Wikimedia Foundation wiki",
	"incubatorwiki":    "Wikimedia Incubator",
	"loginwiki":        "Wikimedia Login wiki",
	"mediawikiwiki":    "MediaWiki.org",
	"metawiki":         "Meta-Wiki",
	"nostalgiawiki":    "Nostalgia Wikipedia",
	"outreachwiki":     "Outreach Wiki",
	"qualitywiki":      "Wikimedia Quality",
	"sourceswiki":      "Multilingual Wikisource",
	"specieswiki":      "Wikispecies",
	"strategywiki":     "Wikimedia Strategic Planning",
	"tenwiki":          "Wikipedia 10",
	"testwikidatawiki": "Wikidata Test Wiki",
	"testwiki":         "Test Wikipedia",
	"test2wiki":        "test2.Wikipedia",
	"usabilitywiki":    "Wikimedia Usability Initiative",
	"votewiki":         "Wikimedia Vote Wiki",
	"wikidatawiki":     "Wikidata",
}

var chapterWikis = map[string]string{
	"ar": "Wikimedia Argentina",
	"bd": "Wikimedia Bangladesh",
	"be": "Wikimedia Belgium",
	"br": "Wikimedia Brazil",
	"ca": "Wikimedia Canada",
	"cn": "Wikimedia China",
	"co": "Wikimedia Colombia",
	"dk": "Wikimedia Denmark",
	"et": "Wikimedia Estonia",
	"fi": "Wikimedia Finland",
	"il": "Wikimedia Israel",
	"mk": "Wikimedia Macedonia",
	"mx": "Wikimedia Mexico",
	"nl": "Wikimedia Netherlands",
	"no": "Wikimedia Norway",
	"nz": "Wikimedia New Zealand",
	"pl": "Wikimedia Poland",
	"rs": "Wikimedia Serbia",
	"ru": "Wikimedia Russia",
	"se": "Wikimedia Sweden",
	"tr": "Wikimedia Turkey",
	"ua": "Wikimedia Ukraine",
	"uk": "Wikimedia UK",
	"ve": "Wikimedia Venezuela",
}

var projectSuffixes = []string{
	"wiktionary",
	"wikibooks",
	"wikiquote",
	"wikinews",
	"wikisource",
	"wikiversity",
	"wikivoyage",
}

// WikiName describes a wiki database name in words.
type WikiName struct {
	// Site is e.g. "the English Wikipedia", or the database name when the
	// language is not known.
	Site string
	// Language is the English language name, or the language code.
	Language string
	// Project is e.g. "Wikipedia" or "Wiktionary".
	Project string
}

// DescribeWiki turns a database name like "enwiki" into words. languages
// maps codes to English names; unknown codes fall back to the raw name.
func DescribeWiki(db string, languages map[string]string) WikiName {
	out := WikiName{Site: db, Language: "English", Project: "Wikimedia"}

	if name, ok := specialWikis[db]; ok {
		out.Site = name
		return out
	}
	if strings.HasPrefix(db, "wikimania") && db != "wikimaniateamwiki" {
		year := strings.TrimSuffix(strings.TrimPrefix(db, "wikimania"), "wiki")
		out.Site = "Wikimania " + year
		out.Project = "Wikimania"
		return out
	}
	if cc, ok := strings.CutSuffix(db, "wikimedia"); ok {
		if name, known := chapterWikis[strings.ReplaceAll(cc, "_", "-")]; known {
			out.Site = name
			out.Language = name
		}
		return out
	}

	code, project := "", ""
	if c, ok := strings.CutSuffix(db, "wiki"); ok {
		code, project = c, "Wikipedia"
	} else {
		for _, suffix := range projectSuffixes {
			if c, ok := strings.CutSuffix(db, suffix); ok {
				code, project = c, strings.ToUpper(suffix[:1])+suffix[1:]
				break
			}
		}
	}
	if project == "" {
		return out
	}

	code = strings.ReplaceAll(code, "_", "-")
	out.Project = project
	out.Language = code
	if lang, ok := languages[code]; ok && lang != "" {
		out.Language = lang
		out.Site = "the " + lang + " " + project
	}
	return out
}
