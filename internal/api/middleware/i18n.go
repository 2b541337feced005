package middleware

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

const (
	languageKey   = "language"
	translatorKey = "translator"
)

// Translator übersetzt Meldungs-IDs der API in die Sprache des Clients
type Translator struct {
	bundle      *i18n.Bundle
	matcher     language.Matcher
	supported   []string
	defaultLang string
}

// NewTranslator lädt die eingebetteten Übersetzungsdateien
func NewTranslator(defaultLanguage string) (*Translator, error) {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	defaultTag, err := language.Parse(defaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", defaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}

	// Standardsprache zuerst, damit der Matcher bei fehlender Übereinstimmung auf sie fällt
	tags := []language.Tag{defaultTag}
	supported := []string{baseOf(defaultTag)}
	for _, entry := range entries {
		data, err := localeFS.ReadFile(path.Join("locales", entry.Name()))
		if err != nil {
			return nil, err
		}
		file, err := bundle.ParseMessageFileBytes(data, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		if baseOf(file.Tag) == supported[0] {
			continue
		}
		tags = append(tags, file.Tag)
		supported = append(supported, baseOf(file.Tag))
	}

	return &Translator{
		bundle:      bundle,
		matcher:     language.NewMatcher(tags),
		supported:   supported,
		defaultLang: supported[0],
	}, nil
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

// Supported meldet, ob für die Sprache eine Übersetzung vorliegt
func (t *Translator) Supported(lang string) bool {
	for _, s := range t.supported {
		if s == lang {
			return true
		}
	}
	return false
}

// Match wählt anhand eines Accept-Language-Headers die passende Sprache
func (t *Translator) Match(acceptLanguage string) string {
	if acceptLanguage == "" {
		return t.defaultLang
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return t.defaultLang
	}
	_, idx, conf := t.matcher.Match(tags...)
	if conf == language.No {
		return t.defaultLang
	}
	return t.supported[idx]
}

// Translate liefert die Meldung in der gewünschten Sprache; unbekannte IDs werden unverändert zurückgegeben
func (t *Translator) Translate(lang, messageID string) string {
	localizer := i18n.NewLocalizer(t.bundle, lang, t.defaultLang)
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		return messageID
	}
	return msg
}

// I18n ermittelt die Sprache aus Query-Parameter, Session oder Accept-Language
func I18n(translator *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && translator.Supported(lang) {
			session.Set(languageKey, lang)
			_ = session.Save()
		} else {
			lang = ""
			if sessionLang, ok := session.Get(languageKey).(string); ok && translator.Supported(sessionLang) {
				lang = sessionLang
			}
		}

		if lang == "" {
			lang = translator.Match(c.GetHeader("Accept-Language"))
		}

		c.Set(languageKey, lang)
		c.Set(translatorKey, translator)
		c.Next()
	}
}

// T übersetzt eine Meldungs-ID für die aktuelle Anfrage
func T(c *gin.Context, messageID string) string {
	t, ok := c.Get(translatorKey)
	if !ok {
		return messageID
	}
	return t.(*Translator).Translate(c.GetString(languageKey), messageID)
}

// Language liefert die für die Anfrage gewählte Sprache
func Language(c *gin.Context) string {
	return c.GetString(languageKey)
}
