package database

// Pending message queries
const (
	InsertPendingMessageQuery = `
		INSERT INTO pending_messages (client_id, fields, created_at)
		VALUES (?, ?, ?)
	`

	SelectPendingMessagesQuery = `
		SELECT id, client_id, fields, created_at
		FROM pending_messages
		ORDER BY id ASC
	`

	CountPendingMessagesQuery = `SELECT COUNT(*) FROM pending_messages`

	DeletePendingMessagesQuery = `DELETE FROM pending_messages`
)

// Insight queries
const (
	UpsertInsightQuery = `
		INSERT INTO insights (id, title, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			updated_at = excluded.updated_at
	`

	SelectInsightsQuery = `
		SELECT id, title, body
		FROM insights
		ORDER BY id ASC
	`
)
