package video

import (
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguageISO3 maps a BCP-47 tag to the ISO-639-3 code the mpegts muxer
// expects in stream metadata. Unparseable tags map to "und".
func LanguageISO3(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return "und"
	}
	base, _ := t.Base()
	return base.ISO3()
}

// LanguageDisplayName returns the English display name for a BCP-47 tag,
// used for subtitle stream titles and EXT-X-MEDIA NAME attributes
func LanguageDisplayName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	name := display.English.Languages().Name(t)
	if name == "" {
		return tag
	}
	return name
}
