// Package notice renders candidate-facing messages in the exam language.
package notice

import (
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/session"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Supported lists the exam languages. The first entry is the fallback.
var Supported = []language.Tag{language.Indonesian, language.English}

var matcher = language.NewMatcher(Supported)

// Catalog localizes notices for one language.
type Catalog struct {
	tag       language.Tag
	localizer *i18n.Localizer
	log       zerolog.Logger
}

// New loads the embedded locales and picks the closest supported language
// for lang (a BCP 47 tag such as "id" or "en-US").
func New(lang string, log zerolog.Logger) (*Catalog, error) {
	bundle := i18n.NewBundle(Supported[0])
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, e.Name()); err != nil {
			return nil, fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
	}

	tag := Supported[0]
	if lang != "" {
		requested, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("parse language %q: %w", lang, err)
		}
		_, i, _ := matcher.Match(requested)
		tag = Supported[i]
	}

	return &Catalog{
		tag:       tag,
		localizer: i18n.NewLocalizer(bundle, tag.String()),
		log:       log.With().Str("component", "notice").Logger(),
	}, nil
}

// Language returns the language the catalog renders in.
func (c *Catalog) Language() language.Tag { return c.tag }

// T translates a message by id.
func (c *Catalog) T(id string) string {
	return c.localize(&i18n.LocalizeConfig{MessageID: id})
}

// Td translates a message by id with template data.
func (c *Catalog) Td(id string, data map[string]any) string {
	return c.localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
}

// Tp translates a pluralized message; Count is available to the template.
func (c *Catalog) Tp(id string, count int) string {
	return c.localize(&i18n.LocalizeConfig{
		MessageID:    id,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

func (c *Catalog) localize(cfg *i18n.LocalizeConfig) string {
	s, err := c.localizer.Localize(cfg)
	if err != nil {
		c.log.Warn().Err(err).Str("id", cfg.MessageID).Msg("Missing translation")
		return cfg.MessageID
	}
	return s
}

// Clock formats a countdown as HH:MM:SS.
func Clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// Grade formats a final grade with at most two decimals.
func Grade(g float64) string {
	return strconv.FormatFloat(math.Round(g*100)/100, 'f', -1, 64)
}

// ForEvent returns the notice a candidate should see for ev. Events that are
// not shown to the candidate return false.
func (c *Catalog) ForEvent(ev session.Event) (string, bool) {
	switch ev.Kind {
	case session.EventResumed:
		return c.T("SessionResumed"), true
	case session.EventViolation:
		return c.Tp("ViolationRecorded", ev.ViolationCount), true
	case session.EventAnnouncement:
		return c.Td("Announcement", map[string]any{"Text": ev.Announcement}), true
	case session.EventExtraTime:
		return c.Tp("ExtraTimeGranted", ev.ExtraTimeMinutes), true
	case session.EventConnectivity:
		if ev.Online {
			return c.T("Online"), true
		}
		return c.T("Offline"), true
	case session.EventBlocked:
		return c.T("SessionBlocked"), true
	case session.EventFinalized:
		return c.Finalized(ev.Result), true
	case session.EventAnomaly:
		switch ev.Anomaly {
		case session.AnomalyStateReset:
			return c.T("LocalDataReset"), true
		case session.AnomalyWriteFailed, session.AnomalyResultNotStored:
			return c.T("LocalWriteFailed"), true
		}
	}
	return "", false
}

// Finalized renders the closing notice and the score summary.
func (c *Catalog) Finalized(rec *model.ResultRecord) string {
	if rec == nil {
		return c.T("Submitted")
	}
	var head string
	switch {
	case rec.Status == model.ResultStatusBlocked:
		return c.T("SessionBlocked")
	case rec.ClosingStatus == model.ClosingAutoSubmitted:
		head = c.T("TimeUp")
	case rec.ClosingStatus == model.ClosingForcedTerminated:
		head = c.T("SessionEnded")
	default:
		head = c.T("Submitted")
	}
	return head + " " + c.Td("ResultSummary", map[string]any{
		"Answered": rec.Totals.Answered,
		"Total":    rec.Totals.Total,
		"Grade":    Grade(rec.Totals.FinalGrade),
	})
}
