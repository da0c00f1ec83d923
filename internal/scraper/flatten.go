package scraper

import "strings"

var flattener = strings.NewReplacer("[", "", "]", "", `"`, "", "{", "", "}", "", ",", "")

// Flatten strips JSON punctuation from the links document, leaving "key: url" lines
// that read well inside a prompt.
func Flatten(doc []byte) string {
	return strings.TrimSpace(flattener.Replace(string(doc)))
}
