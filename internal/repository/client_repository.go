package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/base"
)

type ClientRepository struct {
	*base.Repository
}

func NewClientRepository(db base.DBTX) *ClientRepository {
	return &ClientRepository{Repository: base.NewRepository(db)}
}

// GetClient получает клиента по ID
func (r *ClientRepository) GetClient(ctx context.Context, id string) (*model.Client, error) {
	query := `
		SELECT id, name, age, guardian_id, telegram_chat_id, schedule_id, created_at
		FROM clients
		WHERE id = $1
	`

	var client model.Client
	err := r.QueryRow(ctx, query, id).Scan(
		&client.ID,
		&client.Name,
		&client.Age,
		&client.GuardianID,
		&client.TelegramChatID,
		&client.ScheduleID,
		&client.CreatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get client: %w", err)
	}

	return &client, nil
}

// SaveClient создаёт или обновляет клиента
func (r *ClientRepository) SaveClient(ctx context.Context, client *model.Client) error {
	query := `
		INSERT INTO clients (id, name, age, guardian_id, telegram_chat_id, schedule_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			age = EXCLUDED.age,
			guardian_id = EXCLUDED.guardian_id,
			telegram_chat_id = EXCLUDED.telegram_chat_id,
			schedule_id = EXCLUDED.schedule_id
	`

	err := r.Exec(ctx, query,
		client.ID,
		client.Name,
		client.Age,
		client.GuardianID,
		client.TelegramChatID,
		client.ScheduleID,
		client.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save client: %w", err)
	}

	return nil
}

func (r *ClientRepository) DeleteClient(ctx context.Context, id string) error {
	if err := r.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return nil
}
