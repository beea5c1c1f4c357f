// Package locale loads the embedded per-language string tables used for chat
// notifications. Missing languages and missing keys fall back to English.
package locale

import (
	"embed"
	"io/fs"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed strings/*.yml
var stringsFS embed.FS

const defaultLang = "en"

var (
	loadOnce sync.Once
	tables   map[string]map[string]string
)

func load() {
	tables = make(map[string]map[string]string)

	entries, err := stringsFS.ReadDir("strings")
	if err != nil {
		logrus.WithField("component", "locale").Errorf("read embedded strings: %v", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		lang := strings.TrimSuffix(name, ".yml")
		if lang == name {
			continue
		}

		raw, err := fs.ReadFile(stringsFS, "strings/"+name)
		if err != nil {
			logrus.WithField("component", "locale").Errorf("read %s: %v", name, err)
			continue
		}

		table := make(map[string]string)
		if err := yaml.Unmarshal(raw, &table); err != nil {
			logrus.WithField("component", "locale").Errorf("parse %s: %v", name, err)
			continue
		}
		tables[lang] = table
	}
}

// Languages returns the language codes with an embedded table.
func Languages() []string {
	loadOnce.Do(load)

	langs := make([]string, 0, len(tables))
	for lang := range tables {
		langs = append(langs, lang)
	}
	return langs
}

// Strings returns the message table for lang, backfilled with English for any
// keys the language does not translate.
func Strings(lang string) map[string]string {
	loadOnce.Do(load)

	base := tables[defaultLang]
	if lang == defaultLang || tables[lang] == nil {
		return base
	}

	merged := make(map[string]string, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range tables[lang] {
		merged[k] = v
	}
	return merged
}

// Supported reports whether lang has its own embedded table.
func Supported(lang string) bool {
	loadOnce.Do(load)
	_, ok := tables[lang]
	return ok
}
