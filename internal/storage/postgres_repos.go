package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/message"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

type userRepo struct {
	db *sql.DB
}

func (r *userRepo) Create(ctx context.Context, u user.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`, u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return user.ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id user.ID) (user.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (user.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at
		FROM users WHERE username = $1`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

type serverRepo struct {
	db *sql.DB
}

func (r *serverRepo) Create(ctx context.Context, srv server.Server, owner server.Member) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO servers (id, owner_id, display_name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)`, srv.ID, srv.OwnerID, srv.DisplayName, srv.Description, srv.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return user.ErrNotFound
		}
		return fmt.Errorf("insert server: %w", err)
	}

	if err := insertMember(ctx, tx, owner); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *serverRepo) Get(ctx context.Context, id server.ID) (server.Server, error) {
	var srv server.Server
	err := r.db.QueryRowContext(ctx, `SELECT id, owner_id, display_name, description, created_at
		FROM servers WHERE id = $1`, id).
		Scan(&srv.ID, &srv.OwnerID, &srv.DisplayName, &srv.Description, &srv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return server.Server{}, server.ErrNotFound
		}
		return server.Server{}, fmt.Errorf("select server: %w", err)
	}
	return srv, nil
}

func (r *serverRepo) ListForUser(ctx context.Context, userID user.ID, limit int, after server.ID) ([]server.Server, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT s.id, s.owner_id, s.display_name, s.description, s.created_at
		FROM servers s
		JOIN server_members m ON m.server_id = s.id
		WHERE m.user_id = $1 AND ($2::text = '' OR s.id < $2)
		ORDER BY s.id DESC
		LIMIT $3`, userID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []server.Server
	for rows.Next() {
		var srv server.Server
		if err := rows.Scan(&srv.ID, &srv.OwnerID, &srv.DisplayName, &srv.Description, &srv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate servers: %w", err)
	}
	return out, nil
}

func (r *serverRepo) CountForUser(ctx context.Context, userID user.ID) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_members WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count servers: %w", err)
	}
	return n, nil
}

func (r *serverRepo) AddMember(ctx context.Context, m server.Member) error {
	return insertMember(ctx, r.db, m)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMember(ctx context.Context, db execer, m server.Member) error {
	_, err := db.ExecContext(ctx, `INSERT INTO server_members (id, server_id, user_id, display_name, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, m.ID, m.ServerID, m.UserID, m.DisplayName, m.Description, m.CreatedAt)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return server.ErrAlreadyMember
		case pgForeignKeyViolation:
			return server.ErrNotFound
		}
		return fmt.Errorf("insert server member: %w", err)
	}
	return nil
}

const memberColumns = `id, server_id, user_id, display_name, description, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (server.Member, error) {
	var m server.Member
	err := row.Scan(&m.ID, &m.ServerID, &m.UserID, &m.DisplayName, &m.Description, &m.CreatedAt)
	return m, err
}

func (r *serverRepo) GetMember(ctx context.Context, serverID server.ID, userID user.ID) (server.Member, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+`
		FROM server_members WHERE server_id = $1 AND user_id = $2`, serverID, userID)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return server.Member{}, server.ErrMemberNotFound
		}
		return server.Member{}, fmt.Errorf("select server member: %w", err)
	}
	return m, nil
}

func (r *serverRepo) RemoveMember(ctx context.Context, serverID server.ID, userID user.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM server_members WHERE server_id = $1 AND user_id = $2`, serverID, userID)
	if err != nil {
		return fmt.Errorf("delete server member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete server member rows: %w", err)
	}
	if n == 0 {
		return server.ErrMemberNotFound
	}
	return nil
}

func (r *serverRepo) ListMembers(ctx context.Context, serverID server.ID, limit int, after server.MemberID) ([]server.Member, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+memberColumns+`
		FROM server_members
		WHERE server_id = $1 AND ($2::text = '' OR id < $2)
		ORDER BY id DESC
		LIMIT $3`, serverID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list server members: %w", err)
	}
	defer rows.Close()

	var out []server.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server member: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate server members: %w", err)
	}
	return out, nil
}

func (r *serverRepo) CountMembers(ctx context.Context, serverID server.ID) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_members WHERE server_id = $1`, serverID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count server members: %w", err)
	}
	return n, nil
}

func (r *serverRepo) ListMemberUserIDs(ctx context.Context, serverID server.ID) ([]user.ID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM server_members WHERE server_id = $1`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list member users: %w", err)
	}
	defer rows.Close()

	var out []user.ID
	for rows.Next() {
		var id user.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member user: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member users: %w", err)
	}
	return out, nil
}

func (r *serverRepo) IsMember(ctx context.Context, serverID server.ID, userID user.ID) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM server_members WHERE server_id = $1 AND user_id = $2)`, serverID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check server member: %w", err)
	}
	return ok, nil
}

type channelRepo struct {
	db *sql.DB
}

const channelColumns = `id, kind, owner_id, participant_a, participant_b, server_id, display_name, description, created_at`

var errChannelExists = fmt.Errorf("channel %w", apperr.ErrAlreadyExists)

func (r *channelRepo) Create(ctx context.Context, ch channel.Channel) error {
	var owner, partA, partB, srv sql.NullString
	switch a := ch.Audience.(type) {
	case channel.Saved:
		owner = nullString(string(a.Owner))
	case channel.Direct:
		partA = nullString(string(a.Participants[0]))
		partB = nullString(string(a.Participants[1]))
	case channel.ServerAudience:
		srv = nullString(string(a.Server))
	default:
		return fmt.Errorf("%w: unknown audience", channel.ErrInvalidInput)
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO channels (`+channelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ch.ID, ch.Audience.Kind(), owner, partA, partB, srv, ch.DisplayName, ch.Description, ch.CreatedAt)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return errChannelExists
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: channel audience does not exist", apperr.ErrNotFound)
		}
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanChannel(row rowScanner) (channel.Channel, error) {
	var (
		ch                       channel.Channel
		kind                     string
		owner, partA, partB, srv sql.NullString
	)
	if err := row.Scan(&ch.ID, &kind, &owner, &partA, &partB, &srv, &ch.DisplayName, &ch.Description, &ch.CreatedAt); err != nil {
		return channel.Channel{}, err
	}

	switch kind {
	case channel.KindSaved:
		ch.Audience = channel.Saved{Owner: user.ID(owner.String)}
	case channel.KindDirect:
		ch.Audience = channel.Direct{Participants: [2]user.ID{user.ID(partA.String), user.ID(partB.String)}}
	case channel.KindServer:
		ch.Audience = channel.ServerAudience{Server: server.ID(srv.String)}
	default:
		return channel.Channel{}, fmt.Errorf("unknown channel kind %q", kind)
	}
	return ch, nil
}

func (r *channelRepo) getOne(ctx context.Context, query string, args ...any) (channel.Channel, error) {
	ch, err := scanChannel(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return channel.Channel{}, channel.ErrNotFound
		}
		return channel.Channel{}, fmt.Errorf("select channel: %w", err)
	}
	return ch, nil
}

func (r *channelRepo) Get(ctx context.Context, id channel.ID) (channel.Channel, error) {
	return r.getOne(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
}

func (r *channelRepo) FindSaved(ctx context.Context, owner user.ID) (channel.Channel, error) {
	return r.getOne(ctx, `SELECT `+channelColumns+` FROM channels
		WHERE kind = 'saved' AND owner_id = $1`, owner)
}

func (r *channelRepo) FindDirect(ctx context.Context, a, b user.ID) (channel.Channel, error) {
	return r.getOne(ctx, `SELECT `+channelColumns+` FROM channels
		WHERE kind = 'direct'
		AND LEAST(participant_a, participant_b) = LEAST($1::text, $2::text)
		AND GREATEST(participant_a, participant_b) = GREATEST($1::text, $2::text)`, a, b)
}

func (r *channelRepo) Delete(ctx context.Context, id channel.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete channel rows: %w", err)
	}
	if n == 0 {
		return channel.ErrNotFound
	}
	return nil
}

func (r *channelRepo) ListByServer(ctx context.Context, serverID server.ID, limit int, after channel.ID) ([]channel.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+channelColumns+`
		FROM channels
		WHERE kind = 'server' AND server_id = $1 AND ($2::text = '' OR id < $2)
		ORDER BY id DESC
		LIMIT $3`, serverID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []channel.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

func (r *channelRepo) CountByServer(ctx context.Context, serverID server.ID) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels
		WHERE kind = 'server' AND server_id = $1`, serverID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count channels: %w", err)
	}
	return n, nil
}

type messageRepo struct {
	db *sql.DB
}

const messageColumns = `id, channel_id, author_id, content, created_at, updated_at`

func scanMessage(row rowScanner) (message.Message, error) {
	var (
		msg     message.Message
		updated sql.NullTime
	)
	if err := row.Scan(&msg.ID, &msg.Channel, &msg.Author, &msg.Content, &msg.CreateTime, &updated); err != nil {
		return message.Message{}, err
	}
	if updated.Valid {
		t := updated.Time
		msg.UpdateTime = &t
	}
	return msg, nil
}

func (r *messageRepo) Save(ctx context.Context, msg message.Message) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.Channel, msg.Author, msg.Content, msg.CreateTime, nullTime(msg.UpdateTime))
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return channel.ErrNotFound
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *messageRepo) Get(ctx context.Context, id message.ID) (message.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, message.ErrNotFound
		}
		return message.Message{}, fmt.Errorf("select message: %w", err)
	}
	return msg, nil
}

func (r *messageRepo) Update(ctx context.Context, msg message.Message) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content = $2, updated_at = $3 WHERE id = $1`,
		msg.ID, msg.Content, nullTime(msg.UpdateTime))
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message rows: %w", err)
	}
	if n == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (r *messageRepo) Delete(ctx context.Context, id message.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message rows: %w", err)
	}
	if n == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (r *messageRepo) ListByChannel(ctx context.Context, channelID channel.ID, limit int, after message.ID) ([]message.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+`
		FROM messages
		WHERE channel_id = $1 AND ($2::text = '' OR id < $2)
		ORDER BY id DESC
		LIMIT $3`, channelID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (r *messageRepo) CountByChannel(ctx context.Context, channelID channel.ID) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE channel_id = $1`, channelID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
