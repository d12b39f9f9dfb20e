package bot

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pathakanu/pillLens/internal/adherence"
	"github.com/pathakanu/pillLens/internal/model"
	myopenai "github.com/pathakanu/pillLens/internal/openai"
	"github.com/pathakanu/pillLens/internal/twilio"
	"go.uber.org/zap"
)

// choiceTTL bounds how long the bot waits for the user to pick a medication by number.
const choiceTTL = 10 * time.Minute

// DoseService is the adherence surface the bot talks to. *adherence.Service implements it.
type DoseService interface {
	GetTodaysMissedDoses(ctx context.Context, userID, timezone string) ([]adherence.Classification, error)
	GetOverdueDoses(ctx context.Context, userID, timezone string) ([]adherence.Classification, error)
	GetPendingDoses(ctx context.Context, userID, timezone string) ([]adherence.Classification, error)
	RecordDoseTaken(ctx context.Context, userID, medicationID string, scheduled time.Time, notes string) (model.UpsertOutcome, error)
	CheckMissedDoseRecovery(ctx context.Context, userID, medicationID string, missed time.Time, frequency string) (adherence.RecoveryAdvice, error)
}

// Directory resolves WhatsApp senders to profiles.
type Directory interface {
	ProfileByWhatsApp(ctx context.Context, number string) (*model.UserProfile, error)
}

// IntentClassifier is the language-model fallback used when no keyword rule matches.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, content string) (myopenai.Intent, error)
}

// Bot answers WhatsApp messages about today's doses.
type Bot struct {
	doses      DoseService
	directory  Directory
	classifier IntentClassifier
	state      *conversationStore
	logger     *zap.Logger
}

// New creates a Bot. classifier may be nil, in which case only keyword rules apply.
func New(doses DoseService, directory Directory, classifier IntentClassifier, logger *zap.Logger) *Bot {
	return &Bot{
		doses:      doses,
		directory:  directory,
		classifier: classifier,
		state:      newConversationStore(),
		logger:     logger,
	}
}

// Handler returns the HTTP handler for incoming Twilio messages.
func (b *Bot) Handler() http.HandlerFunc {
	return b.handleIncomingMessage
}

func (b *Bot) handleIncomingMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		b.logger.Warn("webhook: parse error", zap.Error(err))
		b.writeTwilioResponse(w, "Sorry, I couldn't understand that request.")
		return
	}

	from := r.FormValue("From")
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" {
		b.writeTwilioResponse(w, "I need a message to work with. Please try again.")
		return
	}

	ctx := r.Context()
	profile, err := b.directory.ProfileByWhatsApp(ctx, twilio.StripWhatsAppPrefix(from))
	if errors.Is(err, model.ErrNotFound) {
		b.writeTwilioResponse(w, "This number isn't linked to a PillLens profile yet.")
		return
	}
	if err != nil {
		b.logger.Error("webhook: profile lookup", zap.Error(err))
		b.writeTwilioResponse(w, "Something went wrong on my side. Please try again later.")
		return
	}

	b.writeTwilioResponse(w, b.Reply(ctx, *profile, body))
}

// Reply computes the bot's answer to one message from profile.
func (b *Bot) Reply(ctx context.Context, profile model.UserProfile, body string) string {
	if b.state.IsAwaitingChoice(profile.ID) {
		if reply, handled := b.handleChoice(ctx, profile, body); handled {
			return reply
		}
	}

	lowerBody := strings.ToLower(body)
	switch b.determineIntent(ctx, body, lowerBody) {
	case myopenai.IntentListMissed:
		doses, err := b.doses.GetTodaysMissedDoses(ctx, profile.ID, profile.Timezone)
		if err != nil {
			b.logger.Error("bot: list missed", zap.String("user_id", profile.ID), zap.Error(err))
			return "I couldn't load your doses right now. Please try again later."
		}
		if len(doses) == 0 {
			return "No missed doses today. Nice work!"
		}
		return formatDoses("Missed today:", doses)
	case myopenai.IntentListOverdue:
		doses, err := b.doses.GetOverdueDoses(ctx, profile.ID, profile.Timezone)
		if err != nil {
			b.logger.Error("bot: list overdue", zap.String("user_id", profile.ID), zap.Error(err))
			return "I couldn't load your doses right now. Please try again later."
		}
		if len(doses) == 0 {
			return "Nothing is overdue right now."
		}
		return formatDoses("Due now, please take:", doses)
	case myopenai.IntentDoseTaken:
		doses, err := b.doses.GetPendingDoses(ctx, profile.ID, profile.Timezone)
		if err != nil {
			b.logger.Error("bot: pending doses", zap.String("user_id", profile.ID), zap.Error(err))
			return "I couldn't load your doses right now. Please try again later."
		}
		return b.resolve(ctx, profile, myopenai.IntentDoseTaken, matchMedication(doses, lowerBody),
			"I don't see a dose waiting to be taken right now.")
	case myopenai.IntentRecoveryCheck:
		doses, err := b.doses.GetTodaysMissedDoses(ctx, profile.ID, profile.Timezone)
		if err != nil {
			b.logger.Error("bot: missed doses", zap.String("user_id", profile.ID), zap.Error(err))
			return "I couldn't load your doses right now. Please try again later."
		}
		return b.resolve(ctx, profile, myopenai.IntentRecoveryCheck, matchMedication(doses, lowerBody),
			"I don't see a missed dose today to check.")
	case myopenai.IntentHelp:
		return helpResponse()
	default:
		return "Sorry, I didn't get that. Send \"help\" to see what I can do."
	}
}

// resolve acts on a single candidate or asks the user to pick one.
func (b *Bot) resolve(ctx context.Context, profile model.UserProfile, intent myopenai.Intent, candidates []adherence.Classification, none string) string {
	switch len(candidates) {
	case 0:
		return none
	case 1:
		return b.act(ctx, profile, intent, candidates[0])
	default:
		b.state.SetPendingChoice(profile.ID, pendingChoice{Intent: intent, Options: candidates, ExpiresAt: b.state.now().Add(choiceTTL)})
		return formatDoses("Which one? Reply with a number:", candidates)
	}
}

func (b *Bot) handleChoice(ctx context.Context, profile model.UserProfile, body string) (string, bool) {
	choice, ok := b.state.PeekPendingChoice(profile.ID)
	if !ok {
		return "", false
	}
	index, err := parseIndex(body, len(choice.Options))
	if err != nil {
		// a new request abandons the pending question
		if _, convErr := strconv.Atoi(strings.TrimSpace(body)); convErr != nil {
			b.state.Clear(profile.ID)
			return "", false
		}
		return fmt.Sprintf("Please reply with a number between 1 and %d.", len(choice.Options)), true
	}
	b.state.Clear(profile.ID)
	return b.act(ctx, profile, choice.Intent, choice.Options[index-1]), true
}

func (b *Bot) act(ctx context.Context, profile model.UserProfile, intent myopenai.Intent, dose adherence.Classification) string {
	name := fallback(dose.MedicationName, "your medication")
	switch intent {
	case myopenai.IntentDoseTaken:
		if _, err := b.doses.RecordDoseTaken(ctx, profile.ID, dose.MedicationID, dose.ScheduledAt, "reported via WhatsApp"); err != nil {
			b.logger.Error("bot: record taken", zap.String("user_id", profile.ID), zap.Error(err))
			return "I couldn't save that. Please try again."
		}
		return fmt.Sprintf("Got it! Marked %s (%s) as taken.", name, dose.ScheduledAt.Format("15:04"))
	case myopenai.IntentRecoveryCheck:
		advice, err := b.doses.CheckMissedDoseRecovery(ctx, profile.ID, dose.MedicationID, dose.ScheduledAt, "")
		if err != nil {
			b.logger.Error("bot: recovery check", zap.String("user_id", profile.ID), zap.Error(err))
			return "I couldn't check that right now. Please ask your pharmacist."
		}
		return formatAdvice(name, advice)
	default:
		return helpResponse()
	}
}

func (b *Bot) determineIntent(ctx context.Context, message, lowerMessage string) myopenai.Intent {
	if intent := keywordIntent(lowerMessage); intent != myopenai.IntentUnknown {
		return intent
	}
	if b.classifier == nil {
		return myopenai.IntentUnknown
	}

	intent, err := b.classifier.ClassifyIntent(ctx, message)
	if err != nil {
		if !errors.Is(err, myopenai.ErrClientNotInitialised) {
			b.logger.Warn("intent classification error", zap.Error(err))
		}
		return myopenai.IntentUnknown
	}
	return intent
}

func keywordIntent(body string) myopenai.Intent {
	switch {
	case body == "help" || body == "?" || strings.HasPrefix(body, "help "):
		return myopenai.IntentHelp
	case strings.Contains(body, "can i still") ||
		strings.Contains(body, "can i take") ||
		strings.Contains(body, "safe to take") ||
		strings.Contains(body, "late dose"):
		return myopenai.IntentRecoveryCheck
	case strings.Contains(body, "took") || strings.Contains(body, "taken") || body == "done":
		return myopenai.IntentDoseTaken
	case strings.Contains(body, "miss"):
		return myopenai.IntentListMissed
	case strings.Contains(body, "overdue") || strings.Contains(body, "due now"):
		return myopenai.IntentListOverdue
	default:
		return myopenai.IntentUnknown
	}
}

// matchMedication keeps doses whose medication is named in the message. When none is
// named every dose stays a candidate.
func matchMedication(doses []adherence.Classification, lowerMessage string) []adherence.Classification {
	var named []adherence.Classification
	for _, d := range doses {
		if d.MedicationName != "" && strings.Contains(lowerMessage, strings.ToLower(d.MedicationName)) {
			named = append(named, d)
		}
	}
	if len(named) > 0 {
		return named
	}
	return doses
}

func formatDoses(header string, doses []adherence.Classification) string {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n")
	for i, d := range doses {
		sb.WriteString(fmt.Sprintf("%d. %s at %s", i+1, fallback(d.MedicationName, "Medication"), d.ScheduledAt.Format("15:04")))
		if d.OverdueMinutes > 0 {
			sb.WriteString(fmt.Sprintf(" (%d min late)", d.OverdueMinutes))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatAdvice(name string, advice adherence.RecoveryAdvice) string {
	var sb strings.Builder
	if advice.CanTakeNow {
		sb.WriteString(fmt.Sprintf("You can take your missed %s now.", name))
		if advice.NextScheduledDose != nil {
			sb.WriteString(fmt.Sprintf(" Your next dose is at %s.", advice.NextScheduledDose.Format("Mon 15:04")))
		}
	} else {
		sb.WriteString(fmt.Sprintf("Please don't take the missed %s now. %s", name, advice.Warning))
	}
	sb.WriteString("\n\n")
	sb.WriteString(advice.Disclaimer)
	return sb.String()
}

func (b *Bot) writeTwilioResponse(w http.ResponseWriter, message string) {
	twiml := struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message"`
	}{
		Message: message,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := xml.NewEncoder(w).Encode(twiml); err != nil {
		b.logger.Warn("twilio response encode", zap.Error(err))
	}
}

func parseIndex(text string, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", text)
	}
	if n < 1 || n > max {
		return 0, fmt.Errorf("choice %d out of range 1-%d", n, max)
	}
	return n, nil
}

func fallback(primary, secondary string) string {
	if strings.TrimSpace(primary) == "" {
		return secondary
	}
	return primary
}

func helpResponse() string {
	return "You can say things like:\n- \"I took my Metformin\" to log a dose\n- \"What did I miss?\" to see missed doses\n- \"What's overdue?\" to see doses due now\n- \"Can I still take my Metformin?\" to check a late dose"
}

type pendingChoice struct {
	Intent    myopenai.Intent
	Options   []adherence.Classification
	ExpiresAt time.Time
}

type conversationStore struct {
	mu    sync.RWMutex
	state map[string]pendingChoice
	now   func() time.Time
}

func newConversationStore() *conversationStore {
	return &conversationStore{
		state: make(map[string]pendingChoice),
		now:   time.Now,
	}
}

func (c *conversationStore) SetPendingChoice(userID string, choice pendingChoice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[userID] = choice
}

func (c *conversationStore) PeekPendingChoice(userID string) (pendingChoice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	choice, ok := c.state[userID]
	if !ok || c.now().After(choice.ExpiresAt) {
		return pendingChoice{}, false
	}
	return choice, true
}

func (c *conversationStore) Clear(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, userID)
}

func (c *conversationStore) IsAwaitingChoice(userID string) bool {
	_, ok := c.PeekPendingChoice(userID)
	return ok
}
