package notify

import (
	"context"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"go.uber.org/zap"
)

// LogNotifier writes notices to the log. Used when no messenger is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, notice model.CancellationNotice) error {
	n.logger.Info("Booking cancelled",
		zap.String("client_id", notice.ClientID),
		zap.String("booking_id", notice.BookingID),
		zap.String("public_offering_id", notice.PublicOfferingID),
		zap.String("lesson_type", notice.LessonType),
		zap.Time("start", notice.Window.Start),
		zap.Time("end", notice.Window.End),
	)
	return nil
}
