package locale

import "testing"

func TestNormalize(t *testing.T) {
	locales := []string{"en-US", "fr", "nl-NL", "nl"}

	tests := []struct {
		name       string
		path       string
		locales    []string
		wantPath   string
		wantLocale string
	}{
		{"no locales", "/en-US/about", nil, "/en-US/about", ""},
		{"prefixed", "/fr/about", locales, "/about", "fr"},
		{"root locale", "/fr", locales, "/", "fr"},
		{"root locale trailing slash", "/fr/", locales, "/", "fr"},
		{"case insensitive keeps configured case", "/EN-us/docs", locales, "/docs", "en-US"},
		{"segment boundary", "/french/about", locales, "/french/about", ""},
		{"no partial segment", "/nl-NLx", locales, "/nl-NLx", ""},
		{"exact short locale", "/nl/a", locales, "/a", "nl"},
		{"not first segment", "/about/fr", locales, "/about/fr", ""},
		{"root", "/", locales, "/", ""},
		{"relative path", "fr/about", locales, "fr/about", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.path, tt.locales)
			if got.Pathname != tt.wantPath {
				t.Errorf("Pathname = %q, want %q", got.Pathname, tt.wantPath)
			}
			if got.DetectedLocale != tt.wantLocale {
				t.Errorf("DetectedLocale = %q, want %q", got.DetectedLocale, tt.wantLocale)
			}
		})
	}
}

func TestConfigDetect(t *testing.T) {
	cfg := &Config{Locales: []string{"en", "fr"}, DefaultLocale: "en"}

	r, fromPath := cfg.Detect("/fr/a")
	if !fromPath || r.DetectedLocale != "fr" || r.Pathname != "/a" {
		t.Errorf("Detect(/fr/a) = %+v, %v", r, fromPath)
	}

	r, fromPath = cfg.Detect("/a")
	if fromPath || r.DetectedLocale != "en" || r.Pathname != "/a" {
		t.Errorf("Detect(/a) = %+v, %v", r, fromPath)
	}

	var off *Config
	if off.Enabled() {
		t.Error("nil config should be disabled")
	}
	if got := off.Candidates(false); got != nil {
		t.Errorf("Candidates on nil config = %v", got)
	}
	if got := cfg.Candidates(true); len(got) != 1 || got[0] != "en" {
		t.Errorf("Candidates(defaultOnly) = %v", got)
	}
	if !Has(cfg.Locales, "FR") {
		t.Error("Has should ignore case")
	}
}
