package telegram

import (
	"context"
	"fmt"
	"os"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"sidecar/channel"
	"sidecar/cmd"
	"sidecar/internal/config"
	"sidecar/internal/logging"
	"sidecar/plugin"
)

// init registers the Telegram channel
func init() {
	channel.Register(NewTelegramChannel())
}

// TelegramChannel provides Telegram bot integration
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	broker channel.MessageBroker
	router *cmd.Router
	msgCh  <-chan channel.Message
	ctx    context.Context
	stopCh chan struct{}
	chatID int64 // Active chat ID for sending messages
	log    logrus.FieldLogger
}

// NewTelegramChannel creates a new Telegram channel
func NewTelegramChannel() *TelegramChannel {
	return &TelegramChannel{
		stopCh: make(chan struct{}),
		log:    logging.Subsystem("telegram"),
	}
}

// Name returns the channel name
func (c *TelegramChannel) Name() string {
	return "telegram"
}

// CheckRequirements validates channel requirements
func (c *TelegramChannel) CheckRequirements(ctx context.Context) error {
	checker := plugin.NewRequirementChecker("telegram", c.log)

	// Get token from config or environment
	token := c.getToken(ctx)

	// Require token
	checker.AddRequired(
		"telegram_token",
		"Telegram bot token required",
		func(ctx context.Context) error {
			if token == "" {
				return fmt.Errorf("TELEGRAM_TOKEN not set in config or environment")
			}
			return nil
		},
	)

	// Require daemon mode
	checker.AddRequired(
		"daemon_mode",
		"Telegram requires daemon mode",
		plugin.RequireMode(config.ModeDaemon),
	)

	return checker.Check(ctx)
}

// getToken retrieves the Telegram token from config or environment
func (c *TelegramChannel) getToken(ctx context.Context) string {
	// Try config first
	if cfg, ok := ctx.Value("config").(*config.Config); ok {
		if token, ok := cfg.GetChannelSettingString("telegram", "token"); ok && token != "" {
			return token
		}
	}

	// Fallback to environment variable
	return os.Getenv("TELEGRAM_TOKEN")
}

// Start initializes the Telegram bot
func (c *TelegramChannel) Start(ctx context.Context, broker channel.MessageBroker) error {
	c.broker = broker
	c.ctx = ctx
	c.router = cmd.NewRouter()

	// Get token
	token := c.getToken(ctx)

	// Create bot
	var err error
	c.bot, err = tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	c.log.WithField("account", c.bot.Self.UserName).Info("authorized")

	// Subscribe to broker messages
	c.msgCh = broker.Subscribe("telegram", 100, "notification", "response")

	// Start message handlers
	go c.handleBrokerMessages()
	go c.handleTelegramUpdates()

	return nil
}

// Stop shuts down the Telegram bot
func (c *TelegramChannel) Stop(ctx context.Context) error {
	close(c.stopCh)

	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}

	if c.broker != nil {
		c.broker.Unsubscribe("telegram")
	}

	c.log.Info("stopped")
	return nil
}

// handleBrokerMessages receives messages from the broker and sends to Telegram
func (c *TelegramChannel) handleBrokerMessages() {
	for {
		select {
		case msg, ok := <-c.msgCh:
			if !ok {
				return
			}

			// Only send if we have an active chat
			if c.chatID == 0 {
				continue
			}

			// Convert message to string
			var text string
			if str, ok := msg.Payload.(string); ok {
				text = str
			} else {
				text = fmt.Sprintf("%v", msg.Payload)
			}

			// Send to Telegram
			c.sendMessage(c.chatID, text)

		case <-c.stopCh:
			return
		}
	}
}

// handleTelegramUpdates receives updates from Telegram
func (c *TelegramChannel) handleTelegramUpdates() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}

			// Set active chat ID
			c.chatID = update.Message.Chat.ID

			c.log.WithFields(logrus.Fields{
				"from": update.Message.From.UserName,
				"text": update.Message.Text,
			}).Debug("received update")

			// Process message
			c.processMessage(update.Message)

		case <-c.stopCh:
			return
		}
	}
}

// processMessage processes a Telegram message
func (c *TelegramChannel) processMessage(message *tgbotapi.Message) {
	text := message.Text

	// Check if it's a command
	if strings.HasPrefix(text, "/") {
		// Execute command
		result, err := c.router.Route(c.ctx, text)
		if err != nil {
			c.sendMessage(message.Chat.ID, fmt.Sprintf("Error: %v", err))
			return
		}

		if result != nil && result.Output != "" {
			c.sendMessage(message.Chat.ID, result.Output)

			// Broadcast if requested
			if result.Broadcast {
				c.broker.Publish(c.ctx, channel.Message{
					Topic:   "notification",
					Payload: result.Output,
					Source:  "telegram",
				})
			}
		}
	} else {
		// Regular message - publish for hook dispatch
		c.broker.Publish(c.ctx, channel.Message{
			Topic:   "message",
			Payload: text,
			Source:  "telegram",
			Metadata: map[string]interface{}{
				"user_id":  message.From.ID,
				"username": message.From.UserName,
				"chat_id":  message.Chat.ID,
			},
		})

		// Echo confirmation
		c.sendMessage(message.Chat.ID, "Message received")
	}
}

// sendMessage sends a message to a Telegram chat
func (c *TelegramChannel) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		c.log.WithField("error", err).Warn("error sending message")
	}
}
