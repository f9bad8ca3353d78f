package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"stockinfo-bot/internal/approval"
	"stockinfo-bot/internal/database"
	"stockinfo-bot/internal/database/models"
	"stockinfo-bot/internal/locales"
	telegoapi "stockinfo-bot/pkg/telegoapi"

	"github.com/mymmrac/telego"
)

// HandleStart handles the /start command. It registers the bot commands
// with Telegram and sends the welcome message. The command is gated, so
// reaching it means the user is authorized.
func (h *MessageHandler) HandleStart(ctx context.Context, bot telegoapi.BotAPI, message telego.Message) error {
	if err := h.setupCommands(ctx, bot); err != nil {
		return h.sendError(ctx, bot, message.Chat.ID, fmt.Errorf("failed to set up commands: %w", err))
	}

	localizer := h.getLocalizer(message.From)
	startMsg := locales.GetMessage(localizer, "MsgStart", nil, nil)
	return h.sendSuccess(ctx, bot, message.Chat.ID, startMsg)
}

// HandleHelp handles the /help command. Admin-only commands are hidden
// from regular users.
func (h *MessageHandler) HandleHelp(ctx context.Context, bot telegoapi.BotAPI, message telego.Message) error {
	localizer := h.getLocalizer(message.From)
	isAdmin := h.approvals.IsConfiguredAdmin(message.From.ID)

	var helpText strings.Builder
	helpText.WriteString(locales.GetMessage(localizer, "MsgHelpHeader", nil, nil) + "\n")
	for _, cmd := range h.commands {
		if cmd.AdminOnly && !isAdmin {
			continue
		}
		localizedDesc := locales.GetMessage(localizer, cmd.Description, nil, nil)
		helpText.WriteString(fmt.Sprintf("/%s - %s\n", cmd.Command, localizedDesc))
	}

	h.recordActivity(message.From, ActionCommandHelp, map[string]interface{}{
		"chat_id":  message.Chat.ID,
		"is_admin": isAdmin,
	})
	return h.sendSuccess(ctx, bot, message.Chat.ID, helpText.String())
}

// HandleRegister handles the /register command: it creates the pending
// user record and asks the admins to approve it.
func (h *MessageHandler) HandleRegister(ctx context.Context, bot telegoapi.BotAPI, message telego.Message) error {
	userID := message.From.ID
	localizer := h.getLocalizer(message.From)

	user := &models.User{
		UserID:          userID,
		Username:        message.From.Username,
		FirstName:       message.From.FirstName,
		RequestsToday:   0,
		LastRequestDate: h.gate.CurrentDate(),
		IsAuthorized:    false,
		IsAdmin:         false,
	}
	err := h.userRepo.CreateUser(ctx, user)
	if errors.Is(err, database.ErrUserAlreadyExists) {
		msg := locales.GetMessage(localizer, "MsgRegisterAlreadyExists", nil, nil)
		return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
	}
	if err != nil {
		return h.sendError(ctx, bot, message.Chat.ID, fmt.Errorf("failed to register user %d: %w", userID, err))
	}

	if err := h.approvals.RequestApproval(ctx, user); err != nil {
		log.Printf("[Cmd:register User:%d] Failed to notify admins: %v", userID, err)
	}

	h.recordActivity(message.From, ActionCommandRegister, map[string]interface{}{
		"chat_id": message.Chat.ID,
	})
	msg := locales.GetMessage(localizer, "MsgRegisterPending", nil, nil)
	return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
}

// HandleAuthorize handles the /authorize command, the manual counterpart
// of the approve button.
func (h *MessageHandler) HandleAuthorize(ctx context.Context, bot telegoapi.BotAPI, message telego.Message) error {
	actingID := message.From.ID
	localizer := h.getLocalizer(message.From)

	args := commandArgs(message.Text)
	if len(args) == 0 {
		msg := locales.GetMessage(localizer, "MsgAuthorizeUsage", nil, nil)
		return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		msg := locales.GetMessage(localizer, "MsgAuthorizeInvalidID", nil, nil)
		return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
	}

	switch err := h.approvals.Approve(ctx, actingID, targetID); {
	case errors.Is(err, approval.ErrForbidden):
		log.Printf("[Cmd:authorize User:%d] Non-admin attempted to authorize %d", actingID, targetID)
		msg := locales.GetMessage(localizer, "MsgErrorRequiresAdmin", nil, nil)
		return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
	case errors.Is(err, database.ErrUserNotFound):
		msg := locales.GetMessage(localizer, "MsgUserNotRegistered", nil, nil)
		return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
	case err != nil:
		return h.sendError(ctx, bot, message.Chat.ID, fmt.Errorf("failed to authorize user %d: %w", targetID, err))
	}

	h.recordActivity(message.From, ActionCommandAuthorize, map[string]interface{}{
		"chat_id":   message.Chat.ID,
		"target_id": targetID,
	})
	msg := locales.GetMessage(localizer, "MsgApprovalConfirmed", map[string]interface{}{
		"UserID": targetID,
	}, nil)
	return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
}

// HandleVersion handles the /version command.
func (h *MessageHandler) HandleVersion(ctx context.Context, bot telegoapi.BotAPI, message telego.Message) error {
	localizer := h.getLocalizer(message.From)
	versionText := locales.GetMessage(localizer, "MsgVersion", map[string]interface{}{
		"Version": h.version,
	}, nil)

	h.recordActivity(message.From, ActionCommandVersion, map[string]interface{}{
		"chat_id": message.Chat.ID,
		"version": h.version,
	})
	return h.sendSuccess(ctx, bot, message.Chat.ID, versionText)
}

// symbolCommand builds a handler for a data command taking a ticker symbol.
func (h *MessageHandler) symbolCommand(name string, fetch func(context.Context, string) (string, error)) CommandFunc {
	return func(ctx context.Context, bot telegoapi.BotAPI, message telego.Message) error {
		localizer := h.getLocalizer(message.From)

		args := commandArgs(message.Text)
		if len(args) == 0 {
			msg := locales.GetMessage(localizer, "MsgSymbolRequired", map[string]interface{}{
				"Example": fmt.Sprintf("/%s AAPL", name),
			}, nil)
			return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
		}
		symbol := strings.ToUpper(args[0])

		result, err := fetch(ctx, symbol)
		if err != nil {
			// Upstream failures are a normal outcome for the user, not a
			// fault to raise past the gate.
			log.Printf("[Cmd:%s User:%d] Market data error for %s: %v", name, message.From.ID, symbol, err)
			msg := locales.GetMessage(localizer, "MsgDataUnavailable", nil, nil)
			return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
		}
		return h.sendSuccess(ctx, bot, message.Chat.ID, result)
	}
}

// moversCommand builds a handler for the symbol-less top gainers/losers commands.
func (h *MessageHandler) moversCommand(fetch func(context.Context) (string, error)) CommandFunc {
	return func(ctx context.Context, bot telegoapi.BotAPI, message telego.Message) error {
		localizer := h.getLocalizer(message.From)

		result, err := fetch(ctx)
		if err != nil {
			log.Printf("[Cmd:movers User:%d] Market data error: %v", message.From.ID, err)
			msg := locales.GetMessage(localizer, "MsgDataUnavailable", nil, nil)
			return h.sendSuccess(ctx, bot, message.Chat.ID, msg)
		}
		return h.sendSuccess(ctx, bot, message.Chat.ID, result)
	}
}

// setupCommands registers the bot's commands with Telegram.
func (h *MessageHandler) setupCommands(ctx context.Context, bot telegoapi.BotAPI) error {
	if len(h.commands) == 0 {
		return nil
	}

	localizer := locales.NewLocalizer(locales.GetDefaultLanguageTag().String())
	commands := make([]telego.BotCommand, 0, len(h.commands))
	for _, cmd := range h.commands {
		if cmd.AdminOnly {
			continue
		}
		commands = append(commands, telego.BotCommand{
			Command:     cmd.Command,
			Description: locales.GetMessage(localizer, cmd.Description, nil, nil),
		})
	}

	err := bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: commands})
	if err != nil {
		return fmt.Errorf("failed to set bot commands: %w", err)
	}
	return nil
}

// commandArgs splits the arguments after the command word itself.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
