package bot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pathakanu/pillLens/internal/adherence"
	"github.com/pathakanu/pillLens/internal/database"
	"github.com/pathakanu/pillLens/internal/events"
	"github.com/pathakanu/pillLens/internal/metrics"
	"github.com/pathakanu/pillLens/internal/model"
	myopenai "github.com/pathakanu/pillLens/internal/openai"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	bot     *Bot
	store   *database.Store
	service *adherence.Service
	profile model.UserProfile
}

func newTestBot(t *testing.T, now time.Time) *testEnv {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	store := database.NewStore(db)

	service := adherence.NewService(store, events.NewBus(zap.NewNop()), adherence.NewMatcher(time.Hour, 0), time.UTC, metrics.NewNop(), zap.NewNop())
	service.SetClock(func() time.Time { return now })

	profile := model.UserProfile{ID: "u1", DisplayName: "Asha", Timezone: "UTC", WhatsAppNumber: "+15550001111"}
	if err := store.SaveProfile(context.Background(), &profile); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	return &testEnv{
		bot:     New(service, store, myopenai.New(""), zap.NewNop()),
		store:   store,
		service: service,
		profile: profile,
	}
}

// seedMedication stores a daily medication with one reminder and returns its id.
func seedMedication(t *testing.T, env *testEnv, name, at string) string {
	t.Helper()
	ctx := context.Background()

	med := &model.Medication{UserID: "u1", Name: name, Frequency: "twice daily"}
	if err := env.store.SaveMedication(ctx, med); err != nil {
		t.Fatalf("seed medication %s: %v", name, err)
	}
	reminder := &model.Reminder{
		UserID:       "u1",
		MedicationID: med.ID,
		ReminderTime: at,
		DaysOfWeek:   model.Weekdays{1, 2, 3, 4, 5, 6, 7},
		IsActive:     true,
	}
	if err := env.store.SaveReminder(ctx, reminder); err != nil {
		t.Fatalf("seed reminder %s: %v", name, err)
	}
	return med.ID
}

func monday(hour, minute int) time.Time {
	return time.Date(2024, 1, 15, hour, minute, 0, 0, time.UTC)
}

func TestParseIndex(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"1":   1,
		" 3 ": 3,
		"0":   -1,
		"4":   -1,
		"-1":  -1,
		"a":   -1,
		"":    -1,
	}
	for input, want := range cases {
		got, err := parseIndex(input, 3)
		if want == -1 {
			if err == nil {
				t.Fatalf("parseIndex(%q) = %d, want error", input, got)
			}
			continue
		}
		if err != nil || got != want {
			t.Fatalf("parseIndex(%q) = %d, %v, want %d", input, got, err, want)
		}
	}
}

func TestKeywordIntent(t *testing.T) {
	t.Parallel()

	cases := map[string]myopenai.Intent{
		"help":                         myopenai.IntentHelp,
		"i took my metformin":          myopenai.IntentDoseTaken,
		"done":                         myopenai.IntentDoseTaken,
		"what did i miss?":             myopenai.IntentListMissed,
		"what's overdue?":              myopenai.IntentListOverdue,
		"i missed it, can i take it?":  myopenai.IntentRecoveryCheck,
		"can i still take metformin":   myopenai.IntentRecoveryCheck,
		"remind me to call the doctor": myopenai.IntentUnknown,
	}
	for input, want := range cases {
		if got := keywordIntent(input); got != want {
			t.Fatalf("keywordIntent(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestReplyListsMissedAndOverdue(t *testing.T) {
	t.Parallel()
	env := newTestBot(t, monday(9, 10))
	seedMedication(t, env, "Metformin", "08:00")
	seedMedication(t, env, "Lisinopril", "09:00")
	ctx := context.Background()

	missed := env.bot.Reply(ctx, env.profile, "What did I miss?")
	if !containsAll(missed, []string{"Missed today", "Metformin at 08:00", "70 min late"}) {
		t.Fatalf("unexpected missed reply: %q", missed)
	}
	if strings.Contains(missed, "Lisinopril") {
		t.Fatalf("overdue dose listed as missed: %q", missed)
	}

	overdue := env.bot.Reply(ctx, env.profile, "anything overdue")
	if !containsAll(overdue, []string{"Lisinopril at 09:00"}) {
		t.Fatalf("unexpected overdue reply: %q", overdue)
	}
}

func TestReplyRecordsSingleTakenDose(t *testing.T) {
	t.Parallel()
	env := newTestBot(t, monday(8, 5))
	medID := seedMedication(t, env, "Metformin", "08:00")

	reply := env.bot.Reply(context.Background(), env.profile, "I took it")
	if want := "Got it! Marked Metformin (08:00) as taken."; reply != want {
		t.Fatalf("unexpected reply: got %q want %q", reply, want)
	}

	entry, err := env.store.FindEntry(context.Background(), model.NewSlotKey("u1", medID, monday(8, 0)))
	if err != nil {
		t.Fatalf("find entry: %v", err)
	}
	if entry.Status != model.StatusTaken {
		t.Fatalf("expected taken entry, got %s", entry.Status)
	}
}

func TestReplyAsksWhichDoseWhenAmbiguous(t *testing.T) {
	t.Parallel()
	env := newTestBot(t, monday(9, 5))
	seedMedication(t, env, "Metformin", "08:00")
	statin := seedMedication(t, env, "Statin", "09:00")
	ctx := context.Background()

	question := env.bot.Reply(ctx, env.profile, "taken")
	if !containsAll(question, []string{"Which one?", "1. Metformin", "2. Statin"}) {
		t.Fatalf("unexpected question: %q", question)
	}

	if retry := env.bot.Reply(ctx, env.profile, "7"); !strings.Contains(retry, "between 1 and 2") {
		t.Fatalf("expected range hint, got %q", retry)
	}

	answer := env.bot.Reply(ctx, env.profile, "2")
	if !strings.Contains(answer, "Marked Statin") {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if _, err := env.store.FindEntry(ctx, model.NewSlotKey("u1", statin, monday(9, 0))); err != nil {
		t.Fatalf("statin entry missing: %v", err)
	}
	if env.bot.state.IsAwaitingChoice("u1") {
		t.Fatalf("choice should be cleared")
	}
}

func TestReplyNamedMedicationSkipsQuestion(t *testing.T) {
	t.Parallel()
	env := newTestBot(t, monday(9, 5))
	seedMedication(t, env, "Metformin", "08:00")
	seedMedication(t, env, "Statin", "09:00")

	reply := env.bot.Reply(context.Background(), env.profile, "I took my statin")
	if !strings.Contains(reply, "Marked Statin") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestReplyRecoveryCheck(t *testing.T) {
	t.Parallel()
	env := newTestBot(t, monday(9, 0))
	seedMedication(t, env, "Metformin", "08:00")

	reply := env.bot.Reply(context.Background(), env.profile, "Can I still take my Metformin?")
	if !containsAll(reply, []string{"You can take your missed Metformin now", adherence.Disclaimer}) {
		t.Fatalf("unexpected recovery reply: %q", reply)
	}
}

func TestReplyFallsBackWithoutClassifier(t *testing.T) {
	t.Parallel()
	env := newTestBot(t, monday(9, 0))

	reply := env.bot.Reply(context.Background(), env.profile, "tell me a joke")
	if !strings.Contains(reply, "help") {
		t.Fatalf("unexpected fallback reply: %q", reply)
	}
}

func TestWebhookRespondsWithTwiML(t *testing.T) {
	t.Parallel()
	env := newTestBot(t, monday(9, 0))

	cases := []struct {
		from, body, want string
	}{
		{"whatsapp:+15550001111", "help", "I took my Metformin"},
		{"whatsapp:+19999999999", "help", "linked to a PillLens profile"},
		{"", "help", "I need a message"},
	}
	for _, tc := range cases {
		form := url.Values{"From": {tc.from}, "Body": {tc.body}}
		req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()

		env.bot.Handler().ServeHTTP(rec, req)

		if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
			t.Fatalf("content type = %q", ct)
		}
		body := rec.Body.String()
		if !containsAll(body, []string{"<Response>", "<Message>", tc.want}) {
			t.Fatalf("unexpected TwiML for %q: %s", tc.from, body)
		}
	}
}

func containsAll(haystack string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}
