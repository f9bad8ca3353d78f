package approval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"stockinfo-bot/internal/database"
	"stockinfo-bot/internal/database/models"
	"stockinfo-bot/internal/locales"
	telegoapi "stockinfo-bot/pkg/telegoapi"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// callbackPrefix is the payload prefix carried by the approve button on
// admin notifications. The full payload is "approve_<user_id>".
const callbackPrefix = "approve_"

// ErrForbidden is returned when a non-admin attempts an admin-only action.
var ErrForbidden = errors.New("admin permission required")

// Manager handles the admin-side approval of pending users: it fans out
// the approval request to every configured admin, routes the approve
// button callback, and applies the authorization.
type Manager struct {
	bot      telegoapi.BotAPI
	repo     database.UserRepository
	adminIDs []int64
	admins   map[int64]struct{}
}

// NewManager creates a new approval manager. The admin set is read-only
// after construction and must not be empty.
func NewManager(bot telegoapi.BotAPI, repo database.UserRepository, adminIDs []int64) (*Manager, error) {
	if bot == nil {
		return nil, fmt.Errorf("bot instance cannot be nil")
	}
	if repo == nil {
		return nil, fmt.Errorf("user repository cannot be nil")
	}
	if len(adminIDs) == 0 {
		return nil, fmt.Errorf("admin ID set cannot be empty")
	}
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Manager{
		bot:      bot,
		repo:     repo,
		adminIDs: adminIDs,
		admins:   admins,
	}, nil
}

// IsConfiguredAdmin reports whether the ID belongs to the configured admin set.
func (m *Manager) IsConfiguredAdmin(userID int64) bool {
	_, ok := m.admins[userID]
	return ok
}

// RequestApproval notifies every configured admin about a pending user,
// attaching an approve button that carries the user's ID. A send failure
// for one admin is logged and does not block the others. Re-sending for
// an already-authorized user is harmless.
func (m *Manager) RequestApproval(ctx context.Context, user *models.User) error {
	localizer := locales.NewLocalizer(locales.GetDefaultLanguageTag().String())

	text := locales.GetMessage(localizer, "MsgApprovalRequest", map[string]interface{}{
		"UserID":   user.UserID,
		"Username": user.Username,
	}, nil)
	buttonLabel := locales.GetMessage(localizer, "MsgApprovalButton", nil, nil)
	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(buttonLabel).
				WithCallbackData(fmt.Sprintf("%s%d", callbackPrefix, user.UserID)),
		),
	)

	var sent int
	for _, adminID := range m.adminIDs {
		_, err := m.bot.SendMessage(ctx, tu.Message(tu.ID(adminID), text).WithReplyMarkup(keyboard))
		if err != nil {
			log.Printf("[Approval User:%d] Failed to notify admin %d: %v", user.UserID, adminID, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("failed to notify any of the %d configured admins about user %d", len(m.adminIDs), user.UserID)
	}
	return nil
}

// Approve marks the target user as authorized and notifies them. It
// returns ErrForbidden when the acting user is not a configured admin and
// database.ErrUserNotFound when the target is unknown. Approving an
// already-authorized user is a harmless no-op.
func (m *Manager) Approve(ctx context.Context, actingID, targetID int64) error {
	if !m.IsConfiguredAdmin(actingID) {
		return ErrForbidden
	}

	if err := m.repo.SetAuthorized(ctx, targetID, true); err != nil {
		return err
	}

	localizer := locales.NewLocalizer(locales.GetDefaultLanguageTag().String())
	grantedMsg := locales.GetMessage(localizer, "MsgApprovalGranted", nil, nil)
	if _, err := m.bot.SendMessage(ctx, tu.Message(tu.ID(targetID), grantedMsg)); err != nil {
		// The authorization is already durable; the user just misses the
		// notice and will find out on their next command.
		log.Printf("[Approval User:%d] Failed to send approval notice: %v", targetID, err)
	}
	return nil
}

// HandleCallbackQuery routes the approve button callback. It returns true
// when the payload belongs to this manager, regardless of outcome.
func (m *Manager) HandleCallbackQuery(ctx context.Context, query telego.CallbackQuery) (processed bool, err error) {
	if !strings.HasPrefix(query.Data, callbackPrefix) {
		return false, nil
	}

	adminID := query.From.ID
	localizer := locales.NewLocalizer(locales.GetDefaultLanguageTag().String())

	targetID, err := strconv.ParseInt(strings.TrimPrefix(query.Data, callbackPrefix), 10, 64)
	if err != nil {
		log.Printf("[Approval Callback Admin:%d] Invalid payload %q: %v", adminID, query.Data, err)
		errorMsg := locales.GetMessage(localizer, "MsgErrorGeneral", nil, nil)
		_ = m.answerCallbackQuery(ctx, query.ID, errorMsg, true)
		return true, fmt.Errorf("invalid approval callback payload %q", query.Data)
	}

	switch err := m.Approve(ctx, adminID, targetID); {
	case errors.Is(err, ErrForbidden):
		msg := locales.GetMessage(localizer, "MsgErrorRequiresAdmin", nil, nil)
		_ = m.answerCallbackQuery(ctx, query.ID, msg, true)
		return true, nil
	case errors.Is(err, database.ErrUserNotFound):
		msg := locales.GetMessage(localizer, "MsgUserNotRegistered", nil, nil)
		_ = m.answerCallbackQuery(ctx, query.ID, msg, true)
		return true, nil
	case err != nil:
		msg := locales.GetMessage(localizer, "MsgErrorGeneral", nil, nil)
		_ = m.answerCallbackQuery(ctx, query.ID, msg, true)
		return true, err
	}

	confirmMsg := locales.GetMessage(localizer, "MsgApprovalConfirmed", map[string]interface{}{
		"UserID": targetID,
	}, nil)
	_ = m.answerCallbackQuery(ctx, query.ID, confirmMsg, false)

	// Replace the notification text so the admin sees the request as handled.
	if query.Message != nil {
		if msg, ok := query.Message.(*telego.Message); ok && msg != nil {
			_, editErr := m.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
				ChatID:    telego.ChatID{ID: msg.Chat.ID},
				MessageID: msg.MessageID,
				Text:      confirmMsg,
			})
			if editErr != nil {
				log.Printf("[Approval Callback Admin:%d] Failed to edit notification message: %v", adminID, editErr)
			}
		}
	}
	return true, nil
}

func (m *Manager) answerCallbackQuery(ctx context.Context, queryID, text string, showAlert bool) error {
	err := m.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       showAlert,
	})
	if err != nil {
		log.Printf("[Approval Callback] Failed to answer callback query %s: %v", queryID, err)
	}
	return err
}
