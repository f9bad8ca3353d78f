package handlers

import (
	"context"
	"log"

	"stockinfo-bot/internal/approval"
	"stockinfo-bot/internal/auth"
	"stockinfo-bot/internal/database"
	telegoapi "stockinfo-bot/pkg/telegoapi"

	"github.com/mymmrac/telego"
)

// Action types for logging user activity
const (
	ActionCommandStart      = "command_start"
	ActionCommandHelp       = "command_help"
	ActionCommandRegister   = "command_register"
	ActionCommandAuthorize  = "command_authorize"
	ActionCommandStock      = "command_stock"
	ActionCommandSentiment  = "command_sentiment"
	ActionCommandEarnings   = "command_earnings"
	ActionCommandDividend   = "command_dividend"
	ActionCommandHoldings   = "command_holdings"
	ActionCommandTopGainers = "command_top_gainers"
	ActionCommandTopLosers  = "command_top_losers"
	ActionCommandVersion    = "command_version"
)

// CommandFunc is the signature of a command handler.
type CommandFunc func(ctx context.Context, bot telegoapi.BotAPI, message telego.Message) error

// Command represents a bot command, mapping the command string to its
// description key and handler function.
type Command struct {
	Command     string // The command string (e.g., "stock").
	Description string // Localization key for the command description.
	AdminOnly   bool   // Hidden from /help for regular users.
	Handler     CommandFunc
}

// MessageHandler handles incoming Telegram messages and callbacks. Data
// commands are composed with the access gate, so adding a gated command
// requires no gate changes.
type MessageHandler struct {
	gate         *auth.Gate
	approvals    *approval.Manager
	market       MarketDataProvider
	userRepo     database.UserRepository
	actionLogger database.UserActionLogger
	version      string

	commands []Command
}

// NewMessageHandler creates and initializes a new MessageHandler instance.
func NewMessageHandler(
	gate *auth.Gate,
	approvals *approval.Manager,
	market MarketDataProvider,
	userRepo database.UserRepository,
	actionLogger database.UserActionLogger,
	version string,
) *MessageHandler {
	if gate == nil {
		log.Fatal("MessageHandler: access gate dependency is nil")
	}
	if approvals == nil {
		log.Fatal("MessageHandler: approval manager dependency is nil")
	}
	if market == nil {
		log.Fatal("MessageHandler: market data provider dependency is nil")
	}

	h := &MessageHandler{
		gate:         gate,
		approvals:    approvals,
		market:       market,
		userRepo:     userRepo,
		actionLogger: actionLogger,
		version:      version,
	}
	h.commands = []Command{
		{Command: "start", Description: "CmdStartDesc", Handler: h.gated(ActionCommandStart, h.HandleStart)},
		{Command: "help", Description: "CmdHelpDesc", Handler: h.HandleHelp},
		{Command: "register", Description: "CmdRegisterDesc", Handler: h.HandleRegister},
		{Command: "stock", Description: "CmdStockDesc", Handler: h.gated(ActionCommandStock, h.symbolCommand("stock", h.market.GetQuote))},
		{Command: "sentiment", Description: "CmdSentimentDesc", Handler: h.gated(ActionCommandSentiment, h.symbolCommand("sentiment", h.market.GetSentiment))},
		{Command: "earnings", Description: "CmdEarningsDesc", Handler: h.gated(ActionCommandEarnings, h.symbolCommand("earnings", h.market.GetEarnings))},
		{Command: "dividend", Description: "CmdDividendDesc", Handler: h.gated(ActionCommandDividend, h.symbolCommand("dividend", h.market.GetDividend))},
		{Command: "holdings", Description: "CmdHoldingsDesc", Handler: h.gated(ActionCommandHoldings, h.symbolCommand("holdings", h.market.GetHoldings))},
		{Command: "top_gainers", Description: "CmdTopGainersDesc", Handler: h.gated(ActionCommandTopGainers, h.moversCommand(h.market.GetTopGainers))},
		{Command: "top_losers", Description: "CmdTopLosersDesc", Handler: h.gated(ActionCommandTopLosers, h.moversCommand(h.market.GetTopLosers))},
		{Command: "authorize", Description: "CmdAuthorizeDesc", AdminOnly: true, Handler: h.HandleAuthorize},
		{Command: "version", Description: "CmdVersionDesc", Handler: h.HandleVersion},
	}
	return h
}

// GetCommandHandler retrieves the handler function associated with a
// specific command string (e.g., "stock"). It returns nil if the command
// is not found.
func (h *MessageHandler) GetCommandHandler(command string) CommandFunc {
	for _, cmd := range h.commands {
		if cmd.Command == command {
			return cmd.Handler
		}
	}
	return nil
}
