package config

import (
	"flag"
	"net/url"
	"strings"
)

type Cli struct {
	HTTPAddress      string
	PromPort         int
	UpstreamURL      *url.URL
	UserAgent        string
	Task             string
	PostProcess      string
	SourceLanguage   string
	BeamSize         int
	VADFilter        bool
	InitialPrompt    string
	TranscriberURL   *url.URL
	FilterWordsPath  string
	VocabularyPath   string
	CaptionURL       *url.URL
	CaptionAuthUser  string
	CaptionAuthPass  string
	PublishURL       *url.URL
	MuxerTimeoutSecs int
}

// StreamName is the last path element of the configured publishing URL, used
// as the stream identifier on the captioning endpoint.
func (c *Cli) StreamName() string {
	if c.PublishURL == nil {
		return ""
	}
	p := strings.TrimSuffix(c.PublishURL.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func parseURL(s string, dest **url.URL) error {
	if s == "" {
		*dest = nil
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if _, err = url.ParseQuery(u.RawQuery); err != nil {
		return err
	}
	*dest = u
	return nil
}

func URLVarFlag(fs *flag.FlagSet, dest **url.URL, name, value, usage string) {
	if err := parseURL(value, dest); err != nil {
		panic(err)
	}
	fs.Func(name, usage, func(s string) error {
		return parseURL(s, dest)
	})
}
