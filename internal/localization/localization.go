// Package localization resolves user-facing strings for the configured locale.
package localization

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// String keys
const (
	TasksLibraryCategory            = "TasksLibraryCategory"
	TaskExtractSubtitles            = "TaskExtractSubtitles"
	TaskExtractSubtitlesDescription = "TaskExtractSubtitlesDescription"
)

var supported = []language.Tag{
	language.English,
	language.German,
	language.French,
	language.Spanish,
}

var translations = map[language.Tag]map[string]string{
	language.English: {
		TasksLibraryCategory:            "Library",
		TaskExtractSubtitles:            "Extract Subtitles",
		TaskExtractSubtitlesDescription: "Extracts embedded subtitles.",
	},
	language.German: {
		TasksLibraryCategory:            "Bibliothek",
		TaskExtractSubtitles:            "Untertitel extrahieren",
		TaskExtractSubtitlesDescription: "Extrahiert eingebettete Untertitel.",
	},
	language.French: {
		TasksLibraryCategory:            "Médiathèque",
		TaskExtractSubtitles:            "Extraire les sous-titres",
		TaskExtractSubtitlesDescription: "Extrait les sous-titres intégrés.",
	},
	language.Spanish: {
		TasksLibraryCategory:            "Biblioteca",
		TaskExtractSubtitles:            "Extraer subtítulos",
		TaskExtractSubtitlesDescription: "Extrae los subtítulos incrustados.",
	},
}

// Manager looks up localized strings for one locale
type Manager struct {
	tag     language.Tag
	printer *message.Printer
}

// New builds a manager for a BCP 47 locale. Unknown or unsupported locales fall back
// to English.
func New(locale string) *Manager {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, strs := range translations {
		for key, msg := range strs {
			if err := builder.SetString(tag, key, msg); err != nil {
				log.Error().Err(err).Str("locale", tag.String()).Str("key", key).Msg("Failed to register translation")
			}
		}
	}

	tag := Match(locale)
	return &Manager{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(builder)),
	}
}

// Match returns the supported language closest to locale
func Match(locale string) language.Tag {
	requested, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, confidence := language.NewMatcher(supported).Match(requested)
	if confidence == language.No {
		return language.English
	}
	return supported[idx]
}

// Language returns the resolved language
func (m *Manager) Language() language.Tag {
	return m.tag
}

// GetLocalizedString returns the string for key, or the key itself when unknown
func (m *Manager) GetLocalizedString(key string) string {
	return m.printer.Sprintf(key)
}
