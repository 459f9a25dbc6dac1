package notice

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/session"
	"golang.org/x/text/language"
)

func catalog(t *testing.T, lang string) *Catalog {
	t.Helper()
	c, err := New(lang, zerolog.Nop())
	if err != nil {
		t.Fatalf("New(%q): %v", lang, err)
	}
	return c
}

func TestLanguageMatching(t *testing.T) {
	tests := []struct {
		lang string
		want language.Tag
	}{
		{"", language.Indonesian},
		{"id", language.Indonesian},
		{"id-ID", language.Indonesian},
		{"en", language.English},
		{"en-US", language.English},
		{"ja", language.Indonesian},
	}
	for _, tt := range tests {
		if got := catalog(t, tt.lang).Language(); got != tt.want {
			t.Errorf("New(%q).Language() = %s, want %s", tt.lang, got, tt.want)
		}
	}

	if _, err := New("not a tag!", zerolog.Nop()); err == nil {
		t.Error("invalid tag accepted")
	}
}

func TestTranslate(t *testing.T) {
	en := catalog(t, "en")
	if got := en.T("Online"); got != "Connection restored." {
		t.Errorf("en Online = %q", got)
	}
	id := catalog(t, "id")
	if got := id.T("Online"); got != "Koneksi tersambung kembali." {
		t.Errorf("id Online = %q", got)
	}
	if got := en.T("NoSuchMessage"); got != "NoSuchMessage" {
		t.Errorf("missing key = %q", got)
	}
}

func TestPlural(t *testing.T) {
	en := catalog(t, "en")
	if got := en.Tp("Unanswered", 1); got != "1 question is still unanswered." {
		t.Errorf("one = %q", got)
	}
	if got := en.Tp("Unanswered", 3); got != "3 questions are still unanswered." {
		t.Errorf("other = %q", got)
	}
	id := catalog(t, "id")
	if got := id.Tp("Unanswered", 1); got != "Masih ada 1 soal yang belum dijawab." {
		t.Errorf("id = %q", got)
	}
}

func TestClockAndGrade(t *testing.T) {
	if got := Clock(90*time.Minute + 5*time.Second); got != "01:30:05" {
		t.Errorf("Clock = %q", got)
	}
	if got := Clock(-time.Second); got != "00:00:00" {
		t.Errorf("Clock(negative) = %q", got)
	}
	if got := Grade(66.666666); got != "66.67" {
		t.Errorf("Grade = %q", got)
	}
	if got := Grade(100); got != "100" {
		t.Errorf("Grade = %q", got)
	}
}

func TestForEvent(t *testing.T) {
	en := catalog(t, "en")

	msg, ok := en.ForEvent(session.Event{Kind: session.EventAnnouncement, Announcement: "Ten minutes left"})
	if !ok || msg != "Announcement from the proctor: Ten minutes left" {
		t.Errorf("announcement = %q", msg)
	}
	msg, ok = en.ForEvent(session.Event{Kind: session.EventExtraTime, ExtraTimeMinutes: 1})
	if !ok || !strings.HasSuffix(msg, "1 minute.") {
		t.Errorf("extra time = %q", msg)
	}
	if _, ok := en.ForEvent(session.Event{Kind: session.EventTick}); ok {
		t.Error("tick produced a notice")
	}
	if msg, _ := en.ForEvent(session.Event{Kind: session.EventAnomaly, Anomaly: session.AnomalyStateReset}); !strings.Contains(msg, "first question") {
		t.Errorf("state reset = %q", msg)
	}

	rec := &model.ResultRecord{
		Status:        model.ResultStatusAutoSubmitted,
		ClosingStatus: model.ClosingAutoSubmitted,
		Totals:        model.Totals{Answered: 3, Total: 4, FinalGrade: 75},
	}
	msg, _ = en.ForEvent(session.Event{Kind: session.EventFinalized, Result: rec})
	want := "Time is up. Your answers have been submitted automatically. Answered 3 of 4. Grade 75."
	if msg != want {
		t.Errorf("finalized = %q, want %q", msg, want)
	}

	rec.Status = model.ResultStatusBlocked
	rec.ClosingStatus = model.ClosingForcedTerminated
	if msg := en.Finalized(rec); msg != en.T("SessionBlocked") {
		t.Errorf("blocked = %q", msg)
	}
}
