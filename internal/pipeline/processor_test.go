package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"guardbot/internal/embedding"
	"guardbot/internal/enforcement"
	"guardbot/internal/features"
	"guardbot/internal/models"
	"guardbot/internal/policy"
	"guardbot/internal/scoring"
)

const testDims = 2

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, testDims), nil
}

func (f *fakeEmbedder) Dimensions() int { return testDims }

type fakeDescriber struct {
	calls int
	err   error
}

func (f *fakeDescriber) DescribeImage(ctx context.Context, imageURL string) (*embedding.ImageDescription, []float32, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	vec := make([]float32, testDims)
	for i := range vec {
		vec[i] = 9
	}
	return &embedding.ImageDescription{Description: "a picture"}, vec, nil
}

type fakeFiles struct {
	calls int
	err   error
}

func (f *fakeFiles) GetFileDirectURL(fileID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://files.example/" + fileID, nil
}

type fakeAPI struct {
	banCalls    []int64
	muteCalls   []int64
	deleteCalls []int64
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	switch cfg := c.(type) {
	case tgbotapi.BanChatMemberConfig:
		f.banCalls = append(f.banCalls, cfg.ChatID)
	case tgbotapi.RestrictChatMemberConfig:
		f.muteCalls = append(f.muteCalls, cfg.ChatID)
	case tgbotapi.DeleteMessageConfig:
		f.deleteCalls = append(f.deleteCalls, cfg.ChatID)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return tgbotapi.ChatMember{Status: "administrator"}, nil
}

func (f *fakeAPI) GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error) {
	return nil, nil
}

type fakeUsers struct {
	statuses map[string]string
}

func (f *fakeUsers) UpsertUser(user *models.User) error { return nil }
func (f *fakeUsers) GetUserByID(id int64) (*models.User, error) {
	return &models.User{ID: id, ReportPower: 1}, nil
}
func (f *fakeUsers) UpsertStatus(status *models.UserStatus) error { return nil }
func (f *fakeUsers) GetStatus(userID, chatID int64) (*models.UserStatus, error) {
	if s, ok := f.statuses[fmt.Sprintf("%d:%d", userID, chatID)]; ok {
		return &models.UserStatus{UserID: userID, ChatID: chatID, Status: s}, nil
	}
	return nil, nil
}
func (f *fakeUsers) SetStatus(userID, chatID int64, status string) error {
	if f.statuses == nil {
		f.statuses = make(map[string]string)
	}
	f.statuses[fmt.Sprintf("%d:%d", userID, chatID)] = status
	return nil
}
func (f *fakeUsers) SetReportPower(userID int64, power int) error { return nil }
func (f *fakeUsers) FirstSeen(userID int64) (*time.Time, error)  { return nil, nil }

type fakeChats struct {
	active []*models.Chat
}

func (f *fakeChats) GetChatByID(id int64) (*models.Chat, error)           { return nil, nil }
func (f *fakeChats) UpsertChat(chat *models.Chat) error                   { return nil }
func (f *fakeChats) GetActiveChats() ([]*models.Chat, error)              { return f.active, nil }
func (f *fakeChats) GetConfig(chatID int64) ([]byte, error)               { return nil, nil }
func (f *fakeChats) SetConfig(chatID int64, config []byte) error          { return nil }
func (f *fakeChats) SetActive(chatID int64, active bool) error            { return nil }
func (f *fakeChats) UpdateAdminCheckedAt(chatID int64, t time.Time) error { return nil }
func (f *fakeChats) MigrateChatID(oldID, newID int64) (bool, error)       { return true, nil }

type logKey struct{ messageID, chatID int64 }

type fakeMessages struct {
	rows        map[logKey]*models.MessageLog
	predictions map[logKey]float64
	embeddings  map[logKey]pgvector.Vector
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		rows:        make(map[logKey]*models.MessageLog),
		predictions: make(map[logKey]float64),
		embeddings:  make(map[logKey]pgvector.Vector),
	}
}

func (f *fakeMessages) Upsert(msg *models.MessageLog) error {
	f.rows[logKey{msg.MessageID, msg.ChatID}] = msg
	return nil
}

func (f *fakeMessages) Get(messageID, chatID int64) (*models.MessageLog, error) {
	return f.rows[logKey{messageID, chatID}], nil
}

func (f *fakeMessages) SpamCounts(userID int64) (int64, int64, error) { return 0, 0, nil }

func (f *fakeMessages) MarkSpam(messageID, chatID int64, isSpam *bool, verified bool, reason, actionType *string, reportedBy *int64) error {
	row, ok := f.rows[logKey{messageID, chatID}]
	if !ok {
		row = &models.MessageLog{MessageID: messageID, ChatID: chatID}
		f.rows[logKey{messageID, chatID}] = row
	}
	if isSpam != nil {
		row.IsSpam = isSpam
	}
	row.ManuallyVerified = verified
	row.Reason = reason
	row.ActionType = actionType
	row.ReportedBy = reportedBy
	return nil
}

func (f *fakeMessages) SetPrediction(messageID, chatID int64, probability float64) error {
	f.predictions[logKey{messageID, chatID}] = probability
	return nil
}

func (f *fakeMessages) SetEmbedding(messageID, chatID int64, embedding pgvector.Vector) error {
	f.embeddings[logKey{messageID, chatID}] = embedding
	return nil
}

func (f *fakeMessages) SearchSimilar(embedding pgvector.Vector, maxDistance float64, limit int) ([]*models.SimilarMessage, error) {
	return nil, nil
}

func (f *fakeMessages) ListRecent(chatID int64, limit int) ([]*models.MessageLog, error) {
	return nil, nil
}

type fakeReports struct {
	rows []*models.Report
}

func (f *fakeReports) Add(report *models.Report) error {
	f.rows = append(f.rows, report)
	return nil
}

func (f *fakeReports) CumulativePower(chatID, reportedID int64) (int64, error) {
	var total int64
	for _, r := range f.rows {
		if r.ChatID == chatID && r.ReportedID == reportedID {
			total += int64(r.Power)
		}
	}
	return total, nil
}

func (f *fakeReports) DistinctReporters(chatID, reportedID int64) ([]int64, error) {
	seen := map[int64]bool{}
	var reporters []int64
	for _, r := range f.rows {
		if r.ChatID == chatID && r.ReportedID == reportedID && !seen[r.ReporterID] {
			seen[r.ReporterID] = true
			reporters = append(reporters, r.ReporterID)
		}
	}
	return reporters, nil
}

type fakeBans struct {
	banned   map[int64]string
	addCalls int
}

func (f *fakeBans) Add(userID int64, reason string) (bool, error) {
	f.addCalls++
	if f.banned == nil {
		f.banned = make(map[int64]string)
	}
	if _, ok := f.banned[userID]; ok {
		return false, nil
	}
	f.banned[userID] = reason
	return true, nil
}
func (f *fakeBans) Remove(userID int64) error { delete(f.banned, userID); return nil }
func (f *fakeBans) Exists(userID int64) (bool, error) {
	_, ok := f.banned[userID]
	return ok, nil
}

type fakeRatings struct {
	deltas map[int64]int64
	judges []int64
}

func (f *fakeRatings) AddDelta(rating *models.UserRating) error {
	return f.AddDeltaBatch([]int64{rating.UserID}, rating.ChatID, rating.JudgeID, rating.Delta)
}
func (f *fakeRatings) AddDeltaBatch(userIDs []int64, chatID, judgeID int64, delta int) error {
	if f.deltas == nil {
		f.deltas = make(map[int64]int64)
	}
	f.judges = append(f.judges, judgeID)
	for _, id := range userIDs {
		f.deltas[id] += int64(delta)
	}
	return nil
}
func (f *fakeRatings) Aggregate(userID, chatID int64) (int64, error)      { return f.deltas[userID], nil }
func (f *fakeRatings) AggregateGroup(userID, chatID int64) (int64, error) { return f.deltas[userID], nil }

type fakeDeletions struct{}

func (f *fakeDeletions) Schedule(chatID, messageID int64, at time.Time) error { return nil }
func (f *fakeDeletions) Due(now time.Time) ([]*models.MessageDeletion, error) { return nil, nil }
func (f *fakeDeletions) MarkDeleted(id int64) error                           { return nil }

// defaultsConfig resolves every key to the caller default.
type defaultsConfig struct{}

func (defaultsConfig) Float(chatID int64, key string, def float64) float64    { return def }
func (defaultsConfig) Int(chatID int64, key string, def int) int              { return def }
func (defaultsConfig) Bool(chatID int64, key string, def bool) bool           { return def }
func (defaultsConfig) Strings(chatID int64, key string, def []string) []string { return def }

// newTestScorer builds a scorer whose output depends only on the
// intercept: every weight is zero, so sigmoid(intercept) comes out for
// any vector of the right shape.
func newTestScorer(t *testing.T, intercept float64) *scoring.Scorer {
	t.Helper()
	n := 2*testDims + features.ScalarCount
	zeros := strings.TrimSuffix(strings.Repeat("0,", n), ",")
	dir := t.TempDir()
	clfPath := filepath.Join(dir, "classifier.json")
	sclPath := filepath.Join(dir, "scaler.json")
	clf := fmt.Sprintf(`{"feature_version":%d,"weights":[%s],"intercept":%g,"nan_positions":[]}`,
		features.Version, zeros, intercept)
	scl := fmt.Sprintf(`{"mean":[%s],"scale":[%s]}`, zeros, zeros)
	if err := os.WriteFile(clfPath, []byte(clf), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sclPath, []byte(scl), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := scoring.LoadScorer(clfPath, sclPath, zap.NewNop())
	if err != nil {
		t.Fatalf("LoadScorer failed: %v", err)
	}
	return s
}

type testEnv struct {
	processor *Processor
	api       *fakeAPI
	embedder  *fakeEmbedder
	describer *fakeDescriber
	files     *fakeFiles
	bans      *fakeBans
	messages  *fakeMessages
	reports   *fakeReports
	ratings   *fakeRatings
	users     *fakeUsers
}

func newTestEnv(t *testing.T, intercept float64, activeChatIDs ...int64) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	api := &fakeAPI{}
	embedder := &fakeEmbedder{}
	describer := &fakeDescriber{}
	files := &fakeFiles{}
	users := &fakeUsers{}
	messages := newFakeMessages()
	reports := &fakeReports{}
	bans := &fakeBans{}
	ratings := &fakeRatings{}

	active := make([]*models.Chat, 0, len(activeChatIDs))
	for _, id := range activeChatIDs {
		active = append(active, &models.Chat{ID: id, Active: true})
	}
	chats := &fakeChats{active: active}

	extractor := features.NewExtractor(embedder, users, messages, ratings, logger)
	scorer := newTestScorer(t, intercept)
	engine := policy.NewEngine(defaultsConfig{}, logger)
	retry := enforcement.RetryPolicy{BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond, MaxAttempts: 2}
	executor := enforcement.NewExecutor(api, 42, chats, users, bans, ratings, &fakeDeletions{}, retry, logger)

	processor := NewProcessor(users, chats, messages, reports, bans, extractor, scorer, engine, executor,
		embedder, describer, files, logger, time.Second)
	return &testEnv{
		processor: processor,
		api:       api,
		embedder:  embedder,
		describer: describer,
		files:     files,
		bans:      bans,
		messages:  messages,
		reports:   reports,
		ratings:   ratings,
		users:     users,
	}
}

func groupMessage(messageID int, chatID, userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: messageID,
		From:      &tgbotapi.User{ID: userID, FirstName: "test"},
		Chat:      &tgbotapi.Chat{ID: chatID, Title: "test chat", Type: "supergroup"},
		Text:      text,
		Date:      int(time.Now().Unix()),
	}
}

func TestHandleMessageHighScoreBansGlobally(t *testing.T) {
	env := newTestEnv(t, 10, 100, 200) // sigmoid(10) > 0.95
	msg := groupMessage(900, 100, 7, "buy now cheap")

	announcement, err := env.processor.HandleMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if _, ok := env.bans.banned[7]; !ok {
		t.Error("user not globally banned")
	}
	if len(env.api.banCalls) != 2 {
		t.Errorf("expected ban fan-out to 2 chats, got %v", env.api.banCalls)
	}
	if len(env.api.deleteCalls) != 1 {
		t.Errorf("spam message not deleted: %v", env.api.deleteCalls)
	}
	if announcement == "" {
		t.Error("expected an announcement for the ban")
	}

	row := env.messages.rows[logKey{900, 100}]
	if row == nil || row.IsSpam == nil || !*row.IsSpam {
		t.Fatal("message not marked as spam in the audit log")
	}
	if row.ActionType == nil || *row.ActionType != "ban_global" {
		t.Errorf("action type = %v", row.ActionType)
	}
	if p, ok := env.messages.predictions[logKey{900, 100}]; !ok || p < 0.95 {
		t.Errorf("prediction not stored or too low: %v", p)
	}
}

func TestHandleMessageLowScoreDoesNothing(t *testing.T) {
	env := newTestEnv(t, -10, 100) // sigmoid(-10) ~ 0
	msg := groupMessage(901, 100, 7, "good morning everyone")

	announcement, err := env.processor.HandleMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if announcement != "" {
		t.Errorf("unexpected announcement %q", announcement)
	}
	if len(env.api.banCalls)+len(env.api.muteCalls)+len(env.api.deleteCalls) != 0 {
		t.Error("platform calls made for a clean message")
	}
	if _, ok := env.messages.rows[logKey{901, 100}]; !ok {
		t.Error("clean message not recorded in the audit log")
	}
	if _, ok := env.messages.predictions[logKey{901, 100}]; !ok {
		t.Error("prediction not stored for a clean message")
	}
}

func TestHandleMessagePersistsEmbedding(t *testing.T) {
	env := newTestEnv(t, -10, 100)
	msg := groupMessage(910, 100, 7, "an ordinary message")

	if _, err := env.processor.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	// The embedding lands on the audit row so the kNN index grows.
	emb, ok := env.messages.embeddings[logKey{910, 100}]
	if !ok {
		t.Fatal("message embedding was not stored")
	}
	if got := len(emb.Slice()); got != testDims {
		t.Errorf("stored embedding has %d dimensions, want %d", got, testDims)
	}
	// Extraction reuses the precomputed vector instead of embedding
	// the same text twice.
	if env.embedder.calls != 1 {
		t.Errorf("embedder called %d times, want 1", env.embedder.calls)
	}
}

func TestHandleMessagePhotoFeedsImageEmbedding(t *testing.T) {
	t.Run("photo is described and scored", func(t *testing.T) {
		env := newTestEnv(t, -10, 100)
		msg := groupMessage(911, 100, 7, "")
		msg.Caption = "look at this"
		msg.Photo = []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}}

		if _, err := env.processor.HandleMessage(context.Background(), msg); err != nil {
			t.Fatalf("HandleMessage failed: %v", err)
		}
		if env.files.calls != 1 {
			t.Errorf("file URL resolved %d times, want 1", env.files.calls)
		}
		if env.describer.calls != 1 {
			t.Errorf("image described %d times, want 1", env.describer.calls)
		}
		if _, ok := env.messages.predictions[logKey{911, 100}]; !ok {
			t.Error("photo message was not scored")
		}
	})

	t.Run("description failure means no image, not no score", func(t *testing.T) {
		env := newTestEnv(t, -10, 100)
		env.describer.err = errors.New("vision model down")
		msg := groupMessage(912, 100, 7, "")
		msg.Caption = "look at this"
		msg.Photo = []tgbotapi.PhotoSize{{FileID: "large"}}

		if _, err := env.processor.HandleMessage(context.Background(), msg); err != nil {
			t.Fatalf("HandleMessage failed: %v", err)
		}
		if _, ok := env.messages.predictions[logKey{912, 100}]; !ok {
			t.Error("message was not scored after description failure")
		}
	})
}

func TestHandleMessageMuteLevelLeavesLabelUnknown(t *testing.T) {
	env := newTestEnv(t, 2, 100) // sigmoid(2) ~ 0.88: past warn, short of ban
	msg := groupMessage(913, 100, 7, "borderline message")

	if _, err := env.processor.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(env.api.muteCalls) != 1 {
		t.Fatalf("mute calls = %v, want one", env.api.muteCalls)
	}

	row := env.messages.rows[logKey{913, 100}]
	if row == nil {
		t.Fatal("audit row missing")
	}
	// Suspicion is not a label: the tri-state stays unknown.
	if row.IsSpam != nil {
		t.Errorf("mute-level outcome labeled is_spam=%v, want unknown", *row.IsSpam)
	}
	if row.ActionType == nil || *row.ActionType != "mute" {
		t.Errorf("action type = %v, want mute", row.ActionType)
	}
}

func TestHandleMessageUnscorableNeverBlocks(t *testing.T) {
	env := newTestEnv(t, 10, 100)
	env.embedder.err = errors.New("embedding provider down")
	msg := groupMessage(902, 100, 7, "whatever")

	announcement, err := env.processor.HandleMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("HandleMessage returned error for unscorable message: %v", err)
	}
	if announcement != "" || len(env.api.banCalls) != 0 || len(env.api.deleteCalls) != 0 {
		t.Error("unscorable message caused an enforcement action")
	}
}

func TestHandleMessageGloballyBannedSender(t *testing.T) {
	env := newTestEnv(t, -10, 100)
	env.bans.banned = map[int64]string{7: "spam"}
	msg := groupMessage(903, 100, 7, "hello again")

	if _, err := env.processor.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	// Re-banned in the originating chat only, message removed. No
	// scoring happened.
	if len(env.api.banCalls) != 1 || env.api.banCalls[0] != 100 {
		t.Errorf("ban calls = %v, want [100]", env.api.banCalls)
	}
	if len(env.api.deleteCalls) != 1 {
		t.Errorf("banned user's message not deleted")
	}
	if env.embedder.calls != 0 {
		t.Error("scored a message from a globally banned user")
	}
}

func TestHandleMessageDisallowedDocument(t *testing.T) {
	env := newTestEnv(t, -10, 100)
	msg := groupMessage(904, 100, 7, "")
	msg.Caption = "useful tool"
	msg.Document = &tgbotapi.Document{FileName: "setup.exe"}

	if _, err := env.processor.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if _, ok := env.bans.banned[7]; !ok {
		t.Error("disallowed document did not ban")
	}
	if env.embedder.calls != 0 {
		t.Error("deterministic trigger still went through scoring")
	}
	if len(env.api.deleteCalls) != 1 {
		t.Error("document message not deleted")
	}
}

func TestHandleReportThresholds(t *testing.T) {
	env := newTestEnv(t, -10, 100)
	ctx := context.Background()

	// Default thresholds: warn (mute) at 2, ban at 4. Four distinct
	// unit-power reporters.
	var announcements []string
	for reporter := int64(1); reporter <= 4; reporter++ {
		a, err := env.processor.HandleReport(ctx, reporter, 50, 100, 800, "spam")
		if err != nil {
			t.Fatalf("HandleReport #%d failed: %v", reporter, err)
		}
		if a != "" {
			announcements = append(announcements, a)
		}
	}

	if len(announcements) != 2 {
		t.Fatalf("announcements = %v, want mute then ban", announcements)
	}
	if !strings.Contains(announcements[0], "muted") {
		t.Errorf("second report outcome = %q, want mute", announcements[0])
	}
	if !strings.Contains(announcements[1], "banned") {
		t.Errorf("fourth report outcome = %q, want ban", announcements[1])
	}

	if env.bans.addCalls != 1 {
		t.Errorf("global ban recorded %d times, want exactly once", env.bans.addCalls)
	}
	if len(env.api.banCalls) != 1 {
		t.Errorf("platform ban calls = %v, want one (single active chat)", env.api.banCalls)
	}

	// Every distinct reporter was rewarded once, granted by the bot
	// account, never by the banned user.
	for reporter := int64(1); reporter <= 4; reporter++ {
		if env.ratings.deltas[reporter] != 1 {
			t.Errorf("reporter %d reward = %d, want 1", reporter, env.ratings.deltas[reporter])
		}
	}
	for _, judge := range env.ratings.judges {
		if judge != 42 {
			t.Errorf("reward judged by %d, want bot id 42", judge)
		}
	}
}

func TestHandleReportAfterBanDoesNothing(t *testing.T) {
	env := newTestEnv(t, -10, 100)
	ctx := context.Background()

	for reporter := int64(1); reporter <= 4; reporter++ {
		if _, err := env.processor.HandleReport(ctx, reporter, 50, 100, 800, ""); err != nil {
			t.Fatal(err)
		}
	}
	a, err := env.processor.HandleReport(ctx, 5, 50, 100, 800, "")
	if err != nil {
		t.Fatalf("HandleReport failed: %v", err)
	}
	if a != "" {
		t.Errorf("report past the ban threshold produced %q", a)
	}
	if env.bans.addCalls != 1 {
		t.Errorf("ban recorded again: %d calls", env.bans.addCalls)
	}
}
