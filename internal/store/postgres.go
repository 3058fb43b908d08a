package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tartanilla/admin-inbox/internal/model"
)

// Postgres implements Store over the platform's hosted Postgres. Writes
// publish change events through the configured Publisher so subscribers
// see them, mirroring the backend's row-change channels.
type Postgres struct {
	db  *gorm.DB
	pub Publisher
}

type conversationRow struct {
	ID            string `gorm:"primaryKey;column:id"`
	ParticipantID string `gorm:"column:participant_id;index"`
	OperatorID    string `gorm:"column:operator_id;index"`
	Subject       string `gorm:"column:subject"`
	Status        string `gorm:"column:status;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	ID             string `gorm:"primaryKey;column:id"`
	ConversationID string `gorm:"column:conversation_id;index:idx_conv_created"`
	SenderID       string `gorm:"column:sender_id"`
	Body           string `gorm:"column:body"`
	CreatedAt      time.Time `gorm:"index:idx_conv_created"`
	IsRead         bool   `gorm:"column:is_read"`
	IsDeleted      bool   `gorm:"column:is_deleted"`
}

func (messageRow) TableName() string { return "messages" }

type profileRow struct {
	ID   string `gorm:"primaryKey;column:id"`
	Name string `gorm:"column:name"`
	Role string `gorm:"column:role"`
}

func (profileRow) TableName() string { return "profiles" }

// OpenPostgres connects to Postgres and returns a Store. pub may be nil
// to disable change notifications.
func OpenPostgres(dsn string, pub Publisher) (*Postgres, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Postgres{db: db, pub: pub}, nil
}

// Migrate creates or updates the schema.
func (p *Postgres) Migrate() error {
	return p.db.AutoMigrate(&profileRow{}, &conversationRow{}, &messageRow{})
}

func (p *Postgres) ConversationsByParticipant(ctx context.Context, operatorID string, statuses []model.Status) ([]model.Conversation, error) {
	q := p.db.WithContext(ctx).Where("operator_id = ?", operatorID)
	if len(statuses) > 0 {
		set := make([]string, len(statuses))
		for i, s := range statuses {
			set[i] = string(s)
		}
		q = q.Where("status IN ?", set)
	}

	var rows []conversationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	out := make([]model.Conversation, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (p *Postgres) ProfilesByID(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	if len(ids) == 0 {
		return map[string]model.Profile{}, nil
	}
	var rows []profileRow
	if err := p.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	out := make(map[string]model.Profile, len(rows))
	for _, r := range rows {
		out[r.ID] = model.Profile{ID: r.ID, Name: r.Name, Role: r.Role}
	}
	return out, nil
}

func (p *Postgres) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]model.Message, error) {
	if len(conversationIDs) == 0 {
		return map[string]model.Message{}, nil
	}
	var rows []messageRow
	err := p.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (conversation_id) *
		FROM messages
		WHERE conversation_id IN ? AND is_deleted = false
		ORDER BY conversation_id, created_at DESC`,
		conversationIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query latest messages: %w", err)
	}
	out := make(map[string]model.Message, len(rows))
	for _, r := range rows {
		out[r.ConversationID] = r.toModel()
	}
	return out, nil
}

func (p *Postgres) UnreadCounts(ctx context.Context, conversationIDs []string, operatorID string) (map[string]int, error) {
	if len(conversationIDs) == 0 {
		return map[string]int{}, nil
	}
	var rows []struct {
		ConversationID string
		N              int
	}
	err := p.db.WithContext(ctx).Raw(`
		SELECT conversation_id, COUNT(*) AS n
		FROM messages
		WHERE conversation_id IN ? AND is_read = false AND is_deleted = false AND sender_id <> ?
		GROUP BY conversation_id`,
		conversationIDs, operatorID,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query unread counts: %w", err)
	}
	out := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		out[id] = 0
	}
	for _, r := range rows {
		out[r.ConversationID] = r.N
	}
	return out, nil
}

func (p *Postgres) MessagesPage(ctx context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error) {
	q := p.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = false", conversationID).
		Order("created_at DESC").
		Limit(limit)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query messages page: %w", err)
	}
	out := make([]model.Message, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (p *Postgres) InsertMessage(ctx context.Context, conversationID, senderID, body string) (model.Message, error) {
	var conv conversationRow
	if err := p.db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Message{}, ErrNotFound
		}
		return model.Message{}, fmt.Errorf("load conversation: %w", err)
	}

	row := messageRow{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.Now(),
		IsRead:         false,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}

	msg := row.toModel()
	p.publishMessage(ctx, model.ChangeInsert, &msg, nil)
	return msg, nil
}

func (p *Postgres) MarkMessagesRead(ctx context.Context, conversationID, operatorID string) (int, error) {
	var rows []messageRow
	err := p.db.WithContext(ctx).
		Where("conversation_id = ? AND is_read = false AND is_deleted = false AND sender_id <> ?",
			conversationID, operatorID).
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("query unread messages: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	res := p.db.WithContext(ctx).Model(&messageRow{}).
		Where("id IN ?", ids).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark messages read: %w", res.Error)
	}

	for _, r := range rows {
		old := r.toModel()
		updated := old
		updated.IsRead = true
		p.publishMessage(ctx, model.ChangeUpdate, &updated, &old)
	}
	return int(res.RowsAffected), nil
}

func (p *Postgres) UpdateConversationStatus(ctx context.Context, conversationID string, status model.Status) error {
	var row conversationRow
	if err := p.db.WithContext(ctx).First(&row, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load conversation: %w", err)
	}

	old := row.toModel()
	err := p.db.WithContext(ctx).Model(&conversationRow{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}

	updated := old
	updated.Status = status
	updated.UpdatedAt = time.Now()
	if p.pub != nil {
		if ev, err := model.ConversationChange(model.ChangeUpdate, &updated, &old); err == nil {
			_ = p.pub.PublishChange(ctx, model.TableConversations, updated.OperatorID, ev)
		}
	}
	return nil
}

func (p *Postgres) publishMessage(ctx context.Context, t model.ChangeType, newRow, oldRow *model.Message) {
	if p.pub == nil {
		return
	}
	if ev, err := model.MessageChange(t, newRow, oldRow); err == nil {
		_ = p.pub.PublishChange(ctx, model.TableMessages, newRow.ConversationID, ev)
	}
}

func (r conversationRow) toModel() model.Conversation {
	return model.Conversation{
		ID:            r.ID,
		ParticipantID: r.ParticipantID,
		OperatorID:    r.OperatorID,
		Subject:       r.Subject,
		Status:        model.Status(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Body:           r.Body,
		CreatedAt:      r.CreatedAt,
		IsRead:         r.IsRead,
		IsDeleted:      r.IsDeleted,
	}
}
