package notify

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// MessageSender is the part of *bot.Bot used for notices
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// ClientLookup resolves a client's Telegram chat
type ClientLookup interface {
	GetClient(ctx context.Context, id string) (*model.Client, error)
}

type TelegramNotifier struct {
	sender  MessageSender
	clients ClientLookup
}

func NewTelegramNotifier(sender MessageSender, clients ClientLookup) *TelegramNotifier {
	return &TelegramNotifier{
		sender:  sender,
		clients: clients,
	}
}

func (n *TelegramNotifier) Send(ctx context.Context, notice model.CancellationNotice) error {
	client, err := n.clients.GetClient(ctx, notice.ClientID)
	if err != nil {
		return fmt.Errorf("get client: %w", err)
	}
	if client == nil || client.TelegramChatID == nil {
		return ErrNoChannel
	}

	_, err = n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: *client.TelegramChatID,
		Text:   FormatCancellation(notice),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// FormatCancellation renders the text a client receives
func FormatCancellation(notice model.CancellationNotice) string {
	lesson := notice.LessonType
	if lesson == "" {
		lesson = "Занятие"
	}
	if notice.Window.Start.IsZero() {
		return fmt.Sprintf("❌ Запись на «%s» отменена", lesson)
	}
	return fmt.Sprintf("❌ Запись на «%s» %s, %s–%s отменена",
		lesson,
		notice.Window.Start.Format("02.01.2006"),
		notice.Window.Start.Format("15:04"),
		notice.Window.End.Format("15:04"),
	)
}
