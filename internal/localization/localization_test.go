package localization

import (
	"testing"

	"golang.org/x/text/language"
)

func TestGetLocalizedString(t *testing.T) {
	tests := []struct {
		locale string
		key    string
		want   string
	}{
		{"en", TasksLibraryCategory, "Library"},
		{"en-GB", TasksLibraryCategory, "Library"},
		{"de", TasksLibraryCategory, "Bibliothek"},
		{"de-AT", TasksLibraryCategory, "Bibliothek"},
		{"fr-CA", TaskExtractSubtitles, "Extraire les sous-titres"},
		{"es", TaskExtractSubtitlesDescription, "Extrae los subtítulos incrustados."},
		{"ja", TasksLibraryCategory, "Library"},
		{"not a locale", TasksLibraryCategory, "Library"},
		{"en", "UnknownKey", "UnknownKey"},
	}
	for _, tt := range tests {
		m := New(tt.locale)
		if got := m.GetLocalizedString(tt.key); got != tt.want {
			t.Errorf("New(%q).GetLocalizedString(%q) = %q, want %q", tt.locale, tt.key, got, tt.want)
		}
	}
}

func TestMatch(t *testing.T) {
	if got := Match("de-CH"); got != language.German {
		t.Errorf("Match(de-CH) = %v, want German", got)
	}
	if got := Match(""); got != language.English {
		t.Errorf("Match(\"\") = %v, want English", got)
	}
}
