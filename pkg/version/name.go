package version

import (
	"path/filepath"
	"regexp"
	"strings"
)

const (
	namePart    = `^(\w+(?:-\w+)*)-`
	legacyToken = `((?:ardana-\d+(?:\.\d+)*)|(?:[0-9a-zA-Z]+))`
	dottedToken = `([0-9a-zA-Z]+(?:\.[0-9a-zA-Z]+)+)`
	archiveExt  = `\.(?:tgz|tar\.gz|tar)$`
)

// Grammar recognises "<name>-<suffix>" names. Patterns are tried in order
// and the first match wins, so the undotted legacy form keeps precedence
// over dotted suffixes such as "2.0.0".
type Grammar struct {
	patterns []*regexp.Regexp
}

func newGrammar(tail string) *Grammar {
	return &Grammar{patterns: []*regexp.Regexp{
		regexp.MustCompile(namePart + legacyToken + tail),
		regexp.MustCompile(namePart + dottedToken + tail),
	}}
}

var suffixToken = regexp.MustCompile(`^(?:` + legacyToken + `|` + dottedToken + `)$`)

var (
	// TarballName matches "<name>-<suffix>.<ext>" archive file names.
	TarballName = newGrammar(archiveExt)
	// DirName matches "<name>-<suffix>" directory names.
	DirName = newGrammar(`$`)
)

// Split breaks base (a bare file or directory name) into its logical
// name and suffix.
func (g *Grammar) Split(base string) (name, suffix string, ok bool) {
	for _, re := range g.patterns {
		if m := re.FindStringSubmatch(base); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

// SplitTarball splits an archive file name.
func SplitTarball(path string) (name, suffix string, ok bool) {
	return TarballName.Split(filepath.Base(path))
}

// SplitDir splits a package or service directory name.
func SplitDir(path string) (name, suffix string, ok bool) {
	return DirName.Split(filepath.Base(path))
}

// JoinDir builds the directory name for name at suffix.
func JoinDir(name, suffix string) string {
	return name + "-" + suffix
}

// SuffixFor returns the suffix of dirName when it is a "<name>-<suffix>"
// directory of name. Unlike SplitDir it knows the name, so a legacy suffix
// such as "ardana-1" is not mistaken for part of the name.
func SuffixFor(name, dirName string) (string, bool) {
	suffix, ok := strings.CutPrefix(filepath.Base(dirName), name+"-")
	if !ok || !suffixToken.MatchString(suffix) {
		return "", false
	}
	return suffix, true
}
