// Package refcode derives and manipulates human-readable requirement
// reference codes of the form PREFIX('-'PART)*-NNN, e.g. SRD-PWR-001.
package refcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Document carries the naming attributes of an owning document.
type Document struct {
	Slug      string
	ShortCode string
}

// Section carries the naming attributes of an owning section.
type Section struct {
	Name      string
	ShortCode string
}

var suffixPattern = regexp.MustCompile(`^(.+)-([0-9]{3,})$`)

// Prefix derives the non-numeric portion of a reference from the owning
// scope. With both document and section it is <docCode>-<sectionCode>, with
// a document alone <docCode>, and with neither REQ-<project slug uppercased
// with dashes removed>.
func Prefix(projectSlug string, doc *Document, section *Section) string {
	if doc == nil {
		return "REQ-" + strings.ToUpper(strings.ReplaceAll(projectSlug, "-", ""))
	}
	if section == nil {
		return DocumentCode(*doc)
	}
	return DocumentCode(*doc) + "-" + SectionCode(*section)
}

// DocumentCode is the document's shortCode when set, else its slug uppercased.
func DocumentCode(doc Document) string {
	if doc.ShortCode != "" {
		return doc.ShortCode
	}
	return strings.ToUpper(doc.Slug)
}

// SectionCode is the section's shortCode when set, else its name uppercased
// with spaces removed.
func SectionCode(section Section) string {
	if section.ShortCode != "" {
		return section.ShortCode
	}
	return strings.ToUpper(strings.ReplaceAll(section.Name, " ", ""))
}

// Format assembles a full reference. Suffixes are zero-padded to three
// digits and widen naturally past 999 (1000 -> PREFIX-1000).
func Format(prefix string, suffix int) string {
	return fmt.Sprintf("%s-%03d", prefix, suffix)
}

// ScanPattern returns the POSIX regex that matches every reference under
// the given prefix; used by the collision scan inside the allocation
// transaction.
func ScanPattern(prefix string) string {
	return "^" + regexp.QuoteMeta(prefix) + "-[0-9]{3,}$"
}

// Suffix extracts the numeric suffix of a reference. Returns false when the
// reference does not end in a dash-separated run of at least three digits.
func Suffix(ref string) (int, bool) {
	match := suffixPattern.FindStringSubmatch(ref)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, false
	}
	return n, true
}

// SuffixUnder extracts the numeric suffix of refs that sit exactly under
// the given prefix. Refs under a longer prefix that merely starts with the
// same text (SRD-PWR-001 under SRD) do not match.
func SuffixUnder(prefix, ref string) (int, bool) {
	rest, ok := strings.CutPrefix(ref, prefix+"-")
	if !ok || len(rest) < 3 {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Rewrite replaces the non-numeric portion of a reference with a new
// prefix, preserving the existing suffix text verbatim. Returns false when
// the reference carries no recognizable suffix.
func Rewrite(ref, newPrefix string) (string, bool) {
	match := suffixPattern.FindStringSubmatch(ref)
	if match == nil {
		return ref, false
	}
	return newPrefix + "-" + match[2], true
}
