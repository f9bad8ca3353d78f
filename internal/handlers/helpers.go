package handlers

import (
	"context"
	"log"

	"stockinfo-bot/internal/auth"
	"stockinfo-bot/internal/locales"
	telegoapi "stockinfo-bot/pkg/telegoapi"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nicksnyder/go-i18n/v2/i18n"
)

// gated composes the access gate around a command handler. The wrapped
// handler only runs on an allow disposition; every other disposition is
// converted to its localized reply here. A store failure denies the
// action (fail-closed) and surfaces as a generic error notice.
func (h *MessageHandler) gated(action string, fn CommandFunc) CommandFunc {
	return func(ctx context.Context, bot telegoapi.BotAPI, message telego.Message) error {
		userID := message.From.ID
		disposition, err := h.gate.Check(ctx, auth.Requester{
			ID:        userID,
			Username:  message.From.Username,
			FirstName: message.From.FirstName,
		})
		if err != nil {
			return h.sendError(ctx, bot, message.Chat.ID, err)
		}

		localizer := h.getLocalizer(message.From)
		switch disposition {
		case auth.DispositionPending:
			msg := locales.GetMessage(localizer, "MsgAccessPending", nil, nil)
			return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
		case auth.DispositionUnauthorized:
			msg := locales.GetMessage(localizer, "MsgNotAuthorized", nil, nil)
			return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
		case auth.DispositionQuotaExceeded:
			msg := locales.GetMessage(localizer, "MsgQuotaExceeded", nil, nil)
			return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
		}

		h.recordActivity(message.From, action, map[string]interface{}{
			"chat_id": message.Chat.ID,
		})
		return fn(ctx, bot, message)
	}
}

// HandleCallbackQuery processes callback queries, delegating approve
// buttons to the approval manager.
func (h *MessageHandler) HandleCallbackQuery(ctx context.Context, bot telegoapi.BotAPI, query telego.CallbackQuery) error {
	processed, err := h.approvals.HandleCallbackQuery(ctx, query)
	if err != nil {
		log.Printf("Error processing callback query %s via approval manager: %v", query.ID, err)
		return err
	}

	if !processed {
		log.Printf("Callback query %s not processed by any manager. Data: %s", query.ID, query.Data)
		// Still acknowledge so the button stops its loading spinner.
		ackParams := &telego.AnswerCallbackQueryParams{CallbackQueryID: query.ID}
		if ackErr := bot.AnswerCallbackQuery(ctx, ackParams); ackErr != nil {
			log.Printf("Error answering callback query %s: %v", query.ID, ackErr)
		}
	}
	return nil
}

// sendSuccess sends a reply message to the user.
func (h *MessageHandler) sendSuccess(ctx context.Context, bot telegoapi.BotAPI, chatID int64, text string) error {
	_, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		log.Printf("Error sending message to chat %d: %v", chatID, err)
		// Don't return error to user, just log it.
	}
	return nil
}

// sendError sends a generic error notice to the user and returns the
// original error so the update loop can report it.
func (h *MessageHandler) sendError(ctx context.Context, bot telegoapi.BotAPI, chatID int64, originalErr error) error {
	log.Printf("Error for user in chat %d: %v", chatID, originalErr)

	localizer := locales.NewLocalizer(locales.GetDefaultLanguageTag().String())
	errMsg := locales.GetMessage(localizer, "MsgErrorGeneral", nil, nil)

	_, sendErr := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), errMsg))
	if sendErr != nil {
		log.Printf("Error sending generic error message to chat %d: %v", chatID, sendErr)
	}
	return originalErr
}

// getLocalizer determines the best localizer for a given user, falling
// back to the configured default language.
func (h *MessageHandler) getLocalizer(user *telego.User) *i18n.Localizer {
	lang := locales.GetDefaultLanguageTag().String()
	if user != nil && user.LanguageCode != "" {
		lang = user.LanguageCode
	}
	return locales.NewLocalizer(lang)
}

// recordActivity logs the user action; failures are logged and swallowed
// so bookkeeping never breaks a command.
func (h *MessageHandler) recordActivity(user *telego.User, action string, details map[string]interface{}) {
	if user == nil || h.actionLogger == nil {
		return
	}
	if err := h.actionLogger.LogUserAction(user.ID, action, details); err != nil {
		log.Printf("Error logging action %s for user %d (%s): %v", action, user.ID, user.Username, err)
	}
}
