package database

import (
	"context"
	"log/slog"
)

// schema is applied on startup. Every record also carries its key in uid so
// rows can be selected without decoding record ids.
const schema = `
DEFINE TABLE IF NOT EXISTS user SCHEMALESS;
DEFINE TABLE IF NOT EXISTS room SCHEMALESS;
DEFINE TABLE IF NOT EXISTS room_member SCHEMALESS;
DEFINE INDEX IF NOT EXISTS room_member_room ON room_member FIELDS room_id;
DEFINE INDEX IF NOT EXISTS room_member_user ON room_member FIELDS user_id;
DEFINE TABLE IF NOT EXISTS message SCHEMALESS;
DEFINE INDEX IF NOT EXISTS message_room ON message FIELDS room_id, created_at;
DEFINE INDEX IF NOT EXISTS message_direct ON message FIELDS sender_id, receiver_id, created_at;
DEFINE TABLE IF NOT EXISTS notification SCHEMALESS;
DEFINE INDEX IF NOT EXISTS notification_user ON notification FIELDS user_id, created_at;
`

// Migrate defines the tables and indexes the stores rely on.
func Migrate(ctx context.Context, c *Connection) error {
	if err := execute(ctx, c, schema, nil); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Database schema applied")
	return nil
}
