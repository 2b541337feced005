package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func newTestTranslator(t *testing.T, def string) *Translator {
	t.Helper()
	tr, err := NewTranslator(def)
	if err != nil {
		t.Fatalf("translator: %v", err)
	}
	return tr
}

func TestTranslatorMatch(t *testing.T) {
	tr := newTestTranslator(t, "en")

	cases := map[string]string{
		"":                      "en",
		"de":                    "de",
		"de-CH,de;q=0.9":        "de",
		"fr-FR,fr;q=0.9":        "en",
		"fr;q=0.9, de;q=0.8":    "de",
		"not a language header": "en",
	}
	for header, want := range cases {
		if got := tr.Match(header); got != want {
			t.Errorf("Match(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestTranslatorTranslate(t *testing.T) {
	tr := newTestTranslator(t, "en")

	if got := tr.Translate("de", "camera_not_found"); got == "camera_not_found" || got == tr.Translate("en", "camera_not_found") {
		t.Fatalf("expected a German message, got %q", got)
	}
	if got := tr.Translate("en", "no_such_message"); got != "no_such_message" {
		t.Fatalf("unknown ids must be returned unchanged, got %q", got)
	}
	// nicht unterstützte Sprache fällt auf die Standardsprache zurück
	if got, want := tr.Translate("fr", "unauthorized"), tr.Translate("en", "unauthorized"); got != want {
		t.Fatalf("fallback = %q, want %q", got, want)
	}
}

func TestNewTranslatorDefaultLanguage(t *testing.T) {
	tr := newTestTranslator(t, "de")
	if got := tr.Match("fr"); got != "de" {
		t.Fatalf("expected German fallback, got %q", got)
	}
	if !tr.Supported("en") || tr.Supported("fr") {
		t.Fatal("unexpected supported set")
	}

	if _, err := NewTranslator("!!"); err == nil {
		t.Fatal("expected error for invalid default language")
	}
}

func newI18nRouter(t *testing.T) *gin.Engine {
	t.Helper()
	r := gin.New()
	r.Use(sessions.Sessions("test", cookie.NewStore([]byte("0123456789abcdef0123456789abcdef"))))
	r.Use(I18n(newTestTranslator(t, "en")))
	r.GET("/lang", func(c *gin.Context) {
		c.String(http.StatusOK, Language(c))
	})
	return r
}

func TestI18nLanguageSelection(t *testing.T) {
	r := newI18nRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/lang", nil)
	req.Header.Set("Accept-Language", "de-DE")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "de" {
		t.Fatalf("Accept-Language: got %q", w.Body.String())
	}

	// ?lang überschreibt den Header und wird in der Session gemerkt
	req = httptest.NewRequest(http.MethodGet, "/lang?lang=en", nil)
	req.Header.Set("Accept-Language", "de-DE")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "en" {
		t.Fatalf("query parameter: got %q", w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected session cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/lang", nil)
	req.Header.Set("Accept-Language", "de-DE")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "en" {
		t.Fatalf("session language: got %q", w.Body.String())
	}

	// unbekannte Sprache im Query wird ignoriert
	req = httptest.NewRequest(http.MethodGet, "/lang?lang=xx", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "en" {
		t.Fatalf("unsupported query language: got %q", w.Body.String())
	}
}
