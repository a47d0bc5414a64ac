package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const messageColumns = `
	m.id, m.channel_id, COALESCE(m.author_id, ''), m.author_name, m.content,
	m.created_at, m.is_notification, m.deleted,
	f.id, f.filename, f.mimetype, f.size, f.object_key
`

const messageFrom = `FROM messages m LEFT JOIN files f ON f.id = m.file_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg                           Message
		fileID, filename, mime, okey sql.NullString
		size                          sql.NullInt64
	)
	if err := row.Scan(
		&msg.ID, &msg.ChannelID, &msg.AuthorID, &msg.AuthorName, &msg.Content,
		&msg.Timestamp, &msg.IsNotification, &msg.Deleted,
		&fileID, &filename, &mime, &size, &okey,
	); err != nil {
		return Message{}, err
	}
	if fileID.Valid {
		msg.File = &FileRef{
			ID:        fileID.String,
			Filename:  filename.String,
			MimeType:  mime.String,
			Size:      size.Int64,
			ObjectKey: okey.String,
		}
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, is_deleted)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.Email, user.IsDeleted)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, is_deleted, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.IsDeleted, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUsers(ctx context.Context, userIDs []string) ([]User, error) {
	if len(userIDs) == 0 {
		return []User{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, is_deleted, created_at
		FROM users
		WHERE id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]User, len(userIDs))
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.IsDeleted, &user.CreatedAt); err != nil {
			return nil, err
		}
		byID[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	items := make([]User, 0, len(byID))
	for _, id := range userIDs {
		if user, ok := byID[id]; ok {
			items = append(items, user)
		}
	}
	return items, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, is_deleted, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.IsDeleted, &user.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, user)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SearchUsers(ctx context.Context, query, excludeChannelID string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.is_deleted, u.created_at
		FROM users u
		WHERE NOT u.is_deleted
		  AND u.username ILIKE $1
		  AND NOT EXISTS (
			SELECT 1 FROM channel_members cm
			WHERE cm.channel_id = $2 AND cm.user_id = u.id
		  )
		ORDER BY u.username
		LIMIT $3
	`, pattern, excludeChannelID, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.IsDeleted, &user.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, user)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CreateChannel(ctx context.Context, channel Channel, note Message) (Message, error) {
	var out Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO channels (id, name, creator_id) VALUES ($1, $2, $3)
		`, channel.ID, channel.Name, channel.Creator)
		if err != nil {
			return mapConstraint(err, "insert channel")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channel_members (channel_id, user_id, role) VALUES ($1, $2, 'admin')
		`, channel.ID, channel.Creator); err != nil {
			return mapConstraint(err, "insert creator membership")
		}
		note.ChannelID = channel.ID
		out, err = appendMessage(ctx, tx, note)
		return err
	})
	return out, err
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var (
		ch   Channel
		last sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, creator_id, last_message_id, created_at FROM channels WHERE id=$1
	`, channelID).Scan(&ch.ID, &ch.Name, &ch.Creator, &last, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("get channel: %w", err)
	}
	if last.Valid {
		ch.LastMessage = &last.String
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, role FROM channel_members
		WHERE channel_id=$1
		ORDER BY joined_at, user_id
	`, channelID)
	if err != nil {
		return Channel{}, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	ch.Users = make([]string, 0)
	ch.Administrators = make([]string, 0)
	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			return Channel{}, err
		}
		ch.Users = append(ch.Users, userID)
		if role == RoleAdmin {
			ch.Administrators = append(ch.Administrators, userID)
		}
	}
	return ch, rows.Err()
}

func (s *PostgresStore) ListChannelsForUser(ctx context.Context, userID string) ([]ChannelSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, `+messageColumns+`
		FROM channel_members cm
		JOIN channels c ON c.id = cm.channel_id
		LEFT JOIN messages m ON m.id = c.last_message_id
		LEFT JOIN files f ON f.id = m.file_id
		WHERE cm.user_id = $1
		ORDER BY c.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	items := make([]ChannelSummary, 0)
	for rows.Next() {
		var (
			summary                                    ChannelSummary
			msgID, msgChannel, author, authorName, body sql.NullString
			ts                                         sql.NullTime
			isNote, deleted                            sql.NullBool
			fileID, filename, mime, okey               sql.NullString
			size                                       sql.NullInt64
		)
		if err := rows.Scan(
			&summary.ID, &summary.Name,
			&msgID, &msgChannel, &author, &authorName, &body, &ts, &isNote, &deleted,
			&fileID, &filename, &mime, &size, &okey,
		); err != nil {
			return nil, err
		}
		if msgID.Valid {
			msg := Message{
				ID:             msgID.String,
				ChannelID:      msgChannel.String,
				AuthorID:       author.String,
				AuthorName:     authorName.String,
				Content:        body.String,
				Timestamp:      ts.Time.UTC(),
				IsNotification: isNote.Bool,
				Deleted:        deleted.Bool,
			}
			if fileID.Valid {
				msg.File = &FileRef{ID: fileID.String, Filename: filename.String, MimeType: mime.String, Size: size.Int64, ObjectKey: okey.String}
			}
			summary.LastMessage = &msg
		}
		items = append(items, summary)
	}
	return items, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, channelID, userID string, note Message) (Message, error) {
	var out Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockChannel(ctx, tx, channelID); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channel_members (channel_id, user_id, role) VALUES ($1, $2, 'member')
		`, channelID, userID); err != nil {
			return mapConstraint(err, "insert membership")
		}
		note.ChannelID = channelID
		var err error
		out, err = appendMessage(ctx, tx, note)
		return err
	})
	return out, err
}

func (s *PostgresStore) RemoveMember(ctx context.Context, channelID, userID string, note Message) (Message, error) {
	var out Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockChannel(ctx, tx, channelID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM channel_members WHERE channel_id=$1 AND user_id=$2
		`, channelID, userID)
		if err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		note.ChannelID = channelID
		out, err = appendMessage(ctx, tx, note)
		return err
	})
	return out, err
}

func (s *PostgresStore) SetAdmin(ctx context.Context, channelID, userID string, admin bool, note Message) (Message, error) {
	from, to := RoleMember, RoleAdmin
	if !admin {
		from, to = RoleAdmin, RoleMember
	}
	var out Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockChannel(ctx, tx, channelID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE channel_members SET role=$3
			WHERE channel_id=$1 AND user_id=$2 AND role=$4
		`, channelID, userID, to, from)
		if err != nil {
			return fmt.Errorf("update role: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		note.ChannelID = channelID
		out, err = appendMessage(ctx, tx, note)
		return err
	})
	return out, err
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	var out Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockChannel(ctx, tx, msg.ChannelID); err != nil {
			return err
		}
		if msg.File != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO files (id, filename, mimetype, size, object_key) VALUES ($1, $2, $3, $4, $5)
			`, msg.File.ID, msg.File.Filename, msg.File.MimeType, msg.File.Size, msg.File.ObjectKey); err != nil {
				return mapConstraint(err, "insert file")
			}
		}
		var err error
		out, err = appendMessage(ctx, tx, msg)
		return err
	})
	return out, err
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` `+messageFrom+` WHERE m.id=$1`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, channelID string) ([]Message, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM channels WHERE id=$1)`, channelID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check channel: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` `+messageFrom+`
		WHERE m.channel_id=$1
		ORDER BY m.created_at, m.id
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	return items, rows.Err()
}

func (s *PostgresStore) EditMessage(ctx context.Context, messageID, content string) (Message, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content=$2
		WHERE id=$1 AND NOT deleted AND NOT is_notification AND file_id IS NULL
	`, messageID, content)
	if err != nil {
		return Message{}, fmt.Errorf("edit message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetMessage(ctx, messageID); err != nil {
			return Message{}, err
		}
		return Message{}, ErrConflict
	}
	return s.GetMessage(ctx, messageID)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID, tombstone string) (Message, error) {
	var (
		channelID string
		fileID    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT channel_id, file_id FROM messages WHERE id=$1`, messageID).Scan(&channelID, &fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("lookup message: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockChannel(ctx, tx, channelID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET content=$2, deleted=TRUE, file_id=NULL WHERE id=$1 AND NOT deleted
		`, messageID, tombstone)
		if err != nil {
			return fmt.Errorf("tombstone message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		if fileID.Valid {
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, fileID.String); err != nil {
				return fmt.Errorf("delete file ref: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE channels SET last_message_id = (
				SELECT id FROM messages
				WHERE channel_id=$1 AND NOT deleted
				ORDER BY created_at DESC, id DESC
				LIMIT 1
			)
			WHERE id=$1 AND last_message_id=$2
		`, channelID, messageID)
		if err != nil {
			return fmt.Errorf("recompute last message: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return s.GetMessage(ctx, messageID)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockChannel serializes writers on one channel for the rest of the tx.
func lockChannel(ctx context.Context, tx *sql.Tx, channelID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM channels WHERE id=$1 FOR UPDATE`, channelID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock channel: %w", err)
	}
	return nil
}

// appendMessage inserts msg with a timestamp strictly after the channel's
// newest message and points the channel's last message at it. The caller
// must hold the channel lock.
func appendMessage(ctx context.Context, tx *sql.Tx, msg Message) (Message, error) {
	var fileID any
	if msg.File != nil {
		fileID = msg.File.ID
	}
	var authorID any
	if msg.AuthorID != "" {
		authorID = msg.AuthorID
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, channel_id, author_id, author_name, content, file_id, created_at, is_notification)
		VALUES ($1, $2, $3, $4, $5, $6,
			GREATEST(clock_timestamp(), (SELECT MAX(created_at) + INTERVAL '1 microsecond' FROM messages WHERE channel_id=$2)),
			$7)
		RETURNING created_at
	`, msg.ID, msg.ChannelID, authorID, msg.AuthorName, msg.Content, fileID, msg.IsNotification).Scan(&msg.Timestamp)
	if err != nil {
		return Message{}, mapConstraint(err, "insert message")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE channels SET last_message_id=$2 WHERE id=$1`, msg.ChannelID, msg.ID); err != nil {
		return Message{}, fmt.Errorf("update last message: %w", err)
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func mapConstraint(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return ErrConflict
		case pgerrcode.ForeignKeyViolation:
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
