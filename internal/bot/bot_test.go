package bot

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmshop-system/internal/model"
	"github.com/mmeshcher/smmshop-system/internal/repository"
	"github.com/mmeshcher/smmshop-system/internal/session"
	"github.com/mmeshcher/smmshop-system/internal/telegram"
)

type placeCall struct {
	userID    int64
	kind      model.ServiceKind
	link      string
	quantity  int
	costCents int64
}

type depositCall struct {
	userID      int64
	amountCents int64
	proofFileID string
}

type stubService struct {
	user    *model.User
	userErr error

	quote    int64
	quoteErr error

	placedOrder *model.Order
	placeErr    error
	placeCalls  []placeCall

	deposits []depositCall

	orders []model.Order

	settings map[string]string

	credits map[int64]int64

	bannedSet map[int64]bool

	stats *model.Stats

	broadcastText   string
	broadcastFailed int
}

func (s *stubService) EnsureUser(ctx context.Context, telegramID int64, username string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) User(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) QuoteCost(ctx context.Context, kind model.ServiceKind, quantity int) (int64, error) {
	return s.quote, s.quoteErr
}

func (s *stubService) PlaceOrder(ctx context.Context, userID int64, kind model.ServiceKind, link string, quantity int, costCents int64) (*model.Order, error) {
	s.placeCalls = append(s.placeCalls, placeCall{
		userID: userID, kind: kind, link: link, quantity: quantity, costCents: costCents,
	})
	return s.placedOrder, s.placeErr
}

func (s *stubService) RecordDeposit(ctx context.Context, userID, amountCents int64, proofFileID string) error {
	s.deposits = append(s.deposits, depositCall{
		userID: userID, amountCents: amountCents, proofFileID: proofFileID,
	})
	return nil
}

func (s *stubService) UserOrders(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	return s.orders, nil
}

func (s *stubService) SetSetting(ctx context.Context, key, value string) error {
	if s.settings == nil {
		s.settings = make(map[string]string)
	}
	s.settings[key] = value
	return nil
}

func (s *stubService) CreditBalance(ctx context.Context, userID, amountCents int64) error {
	if s.credits == nil {
		s.credits = make(map[int64]int64)
	}
	s.credits[userID] += amountCents
	return nil
}

func (s *stubService) SetBanned(ctx context.Context, userID int64, banned bool) error {
	if s.bannedSet == nil {
		s.bannedSet = make(map[int64]bool)
	}
	s.bannedSet[userID] = banned
	return nil
}

func (s *stubService) Stats(ctx context.Context) (*model.Stats, error) {
	return s.stats, nil
}

func (s *stubService) Broadcast(ctx context.Context, text string) (int, error) {
	s.broadcastText = text
	return s.broadcastFailed, nil
}

type sentMessage struct {
	chatID int64
	text   string
	markup *telegram.InlineKeyboardMarkup
}

type stubSender struct {
	sent     []sentMessage
	answered []string
}

func (s *stubSender) SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	return nil
}

func (s *stubSender) AnswerCallback(ctx context.Context, callbackID string) error {
	s.answered = append(s.answered, callbackID)
	return nil
}

const (
	testUserID  = int64(42)
	testAdminID = int64(999)
)

func newTestBot(svc *stubService, sender *stubSender) (*Bot, *session.Store) {
	if svc.user == nil {
		svc.user = &model.User{TelegramID: testUserID, Username: "buyer"}
	}
	sessions := session.NewStore()
	b := New(svc, sender, sessions, zap.NewNop(), []int64{testAdminID}, 100)
	return b, sessions
}

func textUpdate(userID int64, text string) telegram.Update {
	return telegram.Update{
		Message: &telegram.Message{
			From: &telegram.User{ID: userID, Username: "buyer"},
			Chat: telegram.Chat{ID: userID},
			Text: text,
		},
	}
}

func photoUpdate(userID int64, fileIDs ...string) telegram.Update {
	photos := make([]telegram.PhotoSize, 0, len(fileIDs))
	for _, id := range fileIDs {
		photos = append(photos, telegram.PhotoSize{FileID: id})
	}
	return telegram.Update{
		Message: &telegram.Message{
			From:  &telegram.User{ID: userID, Username: "buyer"},
			Chat:  telegram.Chat{ID: userID},
			Photo: photos,
		},
	}
}

func callbackUpdate(userID int64, data string) telegram.Update {
	return telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cb1",
			From: &telegram.User{ID: userID, Username: "buyer"},
			Message: &telegram.Message{
				Chat: telegram.Chat{ID: userID},
			},
			Data: data,
		},
	}
}

func lastText(t *testing.T, sender *stubSender) string {
	t.Helper()
	if len(sender.sent) == 0 {
		t.Fatalf("expected at least one sent message")
	}
	return sender.sent[len(sender.sent)-1].text
}

func TestStartSendsMenu(t *testing.T) {
	sender := &stubSender{}
	b, _ := newTestBot(&stubService{}, sender)

	b.HandleUpdate(context.Background(), textUpdate(testUserID, "/start"))

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.sent))
	}
	if sender.sent[0].markup == nil {
		t.Fatalf("start reply must carry the main menu")
	}
}

func TestPlainTextOutsideDialogIsIgnored(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), textUpdate(testUserID, "привет"))

	if len(sender.sent) != 0 {
		t.Fatalf("free text outside a dialog must fall through, sent = %v", sender.sent)
	}
	if len(svc.placeCalls) != 0 || len(svc.deposits) != 0 {
		t.Fatalf("free text must not trigger business logic")
	}
}

func TestBannedUserRefused(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{user: &model.User{TelegramID: testUserID, Banned: true}}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), textUpdate(testUserID, "/start"))

	if !strings.Contains(lastText(t, sender), "заблокирован") {
		t.Fatalf("banned user must be refused, got %q", lastText(t, sender))
	}
}

func TestTopUpFlow(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{}
	b, sessions := newTestBot(svc, sender)
	ctx := context.Background()

	b.HandleUpdate(ctx, callbackUpdate(testUserID, cbTopUp))

	s, _, ok := sessions.Get(testUserID)
	if !ok || s.State != session.StateAwaitingAmount {
		t.Fatalf("state = %+v, want awaiting amount", s)
	}

	// Сумма ниже минимума не двигает диалог.
	b.HandleUpdate(ctx, textUpdate(testUserID, "0.50"))
	s, _, _ = sessions.Get(testUserID)
	if s.State != session.StateAwaitingAmount {
		t.Fatalf("state = %v, want awaiting amount after rejected sum", s.State)
	}

	b.HandleUpdate(ctx, textUpdate(testUserID, "10.50"))
	s, _, _ = sessions.Get(testUserID)
	if s.State != session.StateAwaitingProof {
		t.Fatalf("state = %v, want awaiting proof", s.State)
	}
	if s.DepositCents != 1050 {
		t.Fatalf("DepositCents = %d, want 1050", s.DepositCents)
	}

	b.HandleUpdate(ctx, photoUpdate(testUserID, "small", "big"))

	if len(svc.deposits) != 1 {
		t.Fatalf("deposits = %d, want 1", len(svc.deposits))
	}
	d := svc.deposits[0]
	if d.amountCents != 1050 || d.proofFileID != "big" {
		t.Fatalf("unexpected deposit call: %+v", d)
	}

	if _, _, ok := sessions.Get(testUserID); ok {
		t.Fatalf("session must be cleared after proof")
	}
}

func TestPhotoOutsideProofStepIgnored(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), photoUpdate(testUserID, "file1"))

	if len(svc.deposits) != 0 {
		t.Fatalf("photo outside the proof step must be ignored")
	}
}

func TestOrderFlow(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{
		quote:       120,
		placedOrder: &model.Order{ProviderOrderID: "555", CostCents: 120},
	}
	b, sessions := newTestBot(svc, sender)
	ctx := context.Background()

	b.HandleUpdate(ctx, callbackUpdate(testUserID, cbOrderLikes))

	s, _, ok := sessions.Get(testUserID)
	if !ok || s.State != session.StateAwaitingLink || s.Kind != model.ServiceKindLikes {
		t.Fatalf("state = %+v, want awaiting link for likes", s)
	}

	// Невалидная ссылка не двигает диалог.
	b.HandleUpdate(ctx, textUpdate(testUserID, "not a link"))
	s, _, _ = sessions.Get(testUserID)
	if s.State != session.StateAwaitingLink {
		t.Fatalf("state = %v, want awaiting link after bad link", s.State)
	}

	b.HandleUpdate(ctx, textUpdate(testUserID, "https://instagram.com/p/abc/"))
	s, _, _ = sessions.Get(testUserID)
	if s.State != session.StateAwaitingQuantity {
		t.Fatalf("state = %v, want awaiting quantity", s.State)
	}

	// Количество вне границ не двигает диалог.
	b.HandleUpdate(ctx, textUpdate(testUserID, "499"))
	s, _, _ = sessions.Get(testUserID)
	if s.State != session.StateAwaitingQuantity {
		t.Fatalf("state = %v, want awaiting quantity after out-of-bounds", s.State)
	}

	b.HandleUpdate(ctx, textUpdate(testUserID, "1000"))
	s, _, _ = sessions.Get(testUserID)
	if s.State != session.StateAwaitingConfirmation {
		t.Fatalf("state = %v, want awaiting confirmation", s.State)
	}
	if s.CostCents != 120 {
		t.Fatalf("CostCents = %d, want 120", s.CostCents)
	}
	if !strings.Contains(lastText(t, sender), "1.20") {
		t.Fatalf("summary must show the cost, got %q", lastText(t, sender))
	}

	b.HandleUpdate(ctx, callbackUpdate(testUserID, cbConfirm))

	if len(svc.placeCalls) != 1 {
		t.Fatalf("place calls = %d, want 1", len(svc.placeCalls))
	}
	call := svc.placeCalls[0]
	if call.kind != model.ServiceKindLikes || call.quantity != 1000 || call.costCents != 120 {
		t.Fatalf("unexpected place call: %+v", call)
	}
	if call.link != "https://instagram.com/p/abc/" {
		t.Fatalf("link = %q", call.link)
	}

	if _, _, ok := sessions.Get(testUserID); ok {
		t.Fatalf("session must be cleared after confirmation")
	}
}

func TestConfirmWithoutSessionIgnored(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), callbackUpdate(testUserID, cbConfirm))

	if len(svc.placeCalls) != 0 {
		t.Fatalf("confirm without an active dialog must be ignored")
	}
}

func TestConfirmInsufficientBalanceShowsBothValues(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{
		user:     &model.User{TelegramID: testUserID, BalanceCents: 0},
		quote:    120,
		placeErr: repository.ErrInsufficientBalance,
	}
	b, sessions := newTestBot(svc, sender)
	ctx := context.Background()

	sessions.Put(testUserID, session.Session{
		State:     session.StateAwaitingConfirmation,
		Kind:      model.ServiceKindLikes,
		Link:      "https://instagram.com/p/abc/",
		Quantity:  1000,
		CostCents: 120,
	})

	b.HandleUpdate(ctx, callbackUpdate(testUserID, cbConfirm))

	text := lastText(t, sender)
	if !strings.Contains(text, "1.20") || !strings.Contains(text, "0.00") {
		t.Fatalf("shortfall message must show cost and balance, got %q", text)
	}

	if _, _, ok := sessions.Get(testUserID); ok {
		t.Fatalf("cursor must be cleared after refusal")
	}
}

func TestConfirmDuplicateClearsCursor(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{placeErr: repository.ErrDuplicateOrder}
	b, sessions := newTestBot(svc, sender)

	sessions.Put(testUserID, session.Session{
		State:     session.StateAwaitingConfirmation,
		Kind:      model.ServiceKindViews,
		Link:      "https://instagram.com/p/abc/",
		Quantity:  1000,
		CostCents: 90,
	})

	b.HandleUpdate(context.Background(), callbackUpdate(testUserID, cbConfirm))

	if !strings.Contains(lastText(t, sender), "уже есть активный заказ") {
		t.Fatalf("duplicate must be reported, got %q", lastText(t, sender))
	}
	if _, _, ok := sessions.Get(testUserID); ok {
		t.Fatalf("cursor must be cleared after duplicate")
	}
}

func TestCancelClearsCursor(t *testing.T) {
	sender := &stubSender{}
	b, sessions := newTestBot(&stubService{}, sender)

	sessions.Put(testUserID, session.Session{State: session.StateAwaitingConfirmation})

	b.HandleUpdate(context.Background(), callbackUpdate(testUserID, cbCancel))

	if _, _, ok := sessions.Get(testUserID); ok {
		t.Fatalf("cancel must clear the cursor")
	}
}

func TestAdminCommandRefusedForNonAdmin(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), textUpdate(testUserID, "/setprice likes 1.20"))

	if len(svc.settings) != 0 {
		t.Fatalf("non-admin must not change settings")
	}
	if !strings.Contains(lastText(t, sender), "администратор") {
		t.Fatalf("non-admin must be refused, got %q", lastText(t, sender))
	}
}

func adminUpdate(text string) telegram.Update {
	return telegram.Update{
		Message: &telegram.Message{
			From: &telegram.User{ID: testAdminID, Username: "root"},
			Chat: telegram.Chat{ID: testAdminID},
			Text: text,
		},
	}
}

func TestAdminSetPrice(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{user: &model.User{TelegramID: testAdminID}}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), adminUpdate("/setprice likes 1.2"))

	if got := svc.settings[model.SettingPricePer1KLikes]; got != "1.20" {
		t.Fatalf("stored price = %q, want normalized 1.20", got)
	}
}

func TestAdminSetService(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{user: &model.User{TelegramID: testAdminID}}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), adminUpdate("/setservice views 77"))

	if got := svc.settings[model.SettingProviderServiceViews]; got != "77" {
		t.Fatalf("stored service id = %q, want 77", got)
	}
}

func TestAdminAddBalance(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{user: &model.User{TelegramID: testAdminID}}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), adminUpdate("/addbalance 42 10.50"))

	if got := svc.credits[42]; got != 1050 {
		t.Fatalf("credited = %d, want 1050", got)
	}
}

func TestAdminBroadcast(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{user: &model.User{TelegramID: testAdminID}, broadcastFailed: 2}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), adminUpdate("/broadcast скидки на просмотры"))

	if svc.broadcastText != "скидки на просмотры" {
		t.Fatalf("broadcast text = %q", svc.broadcastText)
	}
	if !strings.Contains(lastText(t, sender), "2") {
		t.Fatalf("broadcast report must include failure count, got %q", lastText(t, sender))
	}
}

func TestAdminPanel(t *testing.T) {
	sender := &stubSender{}
	svc := &stubService{
		user: &model.User{TelegramID: testAdminID},
		stats: &model.Stats{
			Users:        7,
			RevenueCents: 12345,
			OrdersByStatus: map[model.OrderStatus]int64{
				model.OrderStatusPending:   2,
				model.OrderStatusCompleted: 5,
			},
		},
	}
	b, _ := newTestBot(svc, sender)

	b.HandleUpdate(context.Background(), adminUpdate("/panel"))

	text := lastText(t, sender)
	if !strings.Contains(text, "7") || !strings.Contains(text, "123.45") {
		t.Fatalf("panel must show stats, got %q", text)
	}
}
