// Package devstore is a sqlite-backed reference implementation of
// hostapi.Host, for standalone runs where no real gateway attaches its
// own collaborator implementations (spec.md §6 Non-goals exclude a
// full gateway; this is the local stand-in cmd/xmppchanneld falls back
// to). Table layout and migration idiom are grounded on the teacher's
// internal/storage/sqlite package.
package devstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatbridge/xmppchannel/internal/hostapi"
)

// DB is a local hostapi.Host backed by sqlite.
type DB struct {
	db *sql.DB
}

// New opens (creating if absent) the devstore database under dataDir.
func New(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "xmppchannel.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pairing_requests (
			channel TEXT NOT NULL,
			bare_jid TEXT NOT NULL,
			code TEXT NOT NULL,
			approved INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (channel, bare_jid)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_key TEXT PRIMARY KEY,
			last_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			account_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_account ON activity_log(channel, account_id)`,
	}

	for _, stmt := range migrations {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

// UpsertPairingRequest implements hostapi.PairingStore. A brand new
// (channel, bareJID) pair gets a freshly minted code and created=true;
// re-contact while pending returns the existing code with created=false.
func (d *DB) UpsertPairingRequest(channel, bareJID string) (bool, string, error) {
	bareJID = strings.ToLower(strings.TrimSpace(bareJID))

	var existing string
	err := d.db.QueryRow(
		`SELECT code FROM pairing_requests WHERE channel = ? AND bare_jid = ?`,
		channel, bareJID,
	).Scan(&existing)
	if err == nil {
		return false, existing, nil
	}
	if err != sql.ErrNoRows {
		return false, "", err
	}

	code, err := generateCode()
	if err != nil {
		return false, "", err
	}

	_, err = d.db.Exec(
		`INSERT INTO pairing_requests (channel, bare_jid, code, approved, created_at) VALUES (?, ?, ?, 0, 0)`,
		channel, bareJID, code,
	)
	if err != nil {
		return false, "", err
	}
	return true, code, nil
}

// ApprovePairing marks a pending request approved, moving bareJID onto
// the allowlist ReadAllowFrom returns. It is not part of hostapi.Host;
// an operator-facing admin path calls it out-of-band (spec.md §4.5).
func (d *DB) ApprovePairing(channel, bareJID string) error {
	bareJID = strings.ToLower(strings.TrimSpace(bareJID))
	res, err := d.db.Exec(
		`UPDATE pairing_requests SET approved = 1 WHERE channel = ? AND bare_jid = ?`,
		channel, bareJID,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("no pending pairing request for %s on %s", bareJID, channel)
	}
	return nil
}

// ReadAllowFrom implements hostapi.PairingStore.
func (d *DB) ReadAllowFrom(channel string) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT bare_jid FROM pairing_requests WHERE channel = ? AND approved = 1`,
		channel,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var jid string
		if err := rows.Scan(&jid); err != nil {
			return nil, err
		}
		out = append(out, jid)
	}
	return out, rows.Err()
}

// RecordSession implements hostapi.SessionStore.
func (d *DB) RecordSession(ctx context.Context, sessionKey string, at int64) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, last_at) VALUES (?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET last_at = excluded.last_at`,
		sessionKey, at,
	)
	return err
}

// PreviousSessionAt implements hostapi.SessionStore.
func (d *DB) PreviousSessionAt(ctx context.Context, sessionKey string) (int64, bool, error) {
	var at int64
	err := d.db.QueryRowContext(ctx,
		`SELECT last_at FROM sessions WHERE session_key = ?`, sessionKey,
	).Scan(&at)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return at, true, nil
}

// ResolveRoute implements hostapi.RoutingResolver. Without a real
// gateway's routing table, every peer resolves to a route keyed by
// account and peer identity — stable across restarts, distinct per
// conversation.
func (d *DB) ResolveRoute(ctx context.Context, channel, accountID string, peer hostapi.Peer) (string, error) {
	return fmt.Sprintf("%s:%s:%s:%s", channel, accountID, peer.Kind, peer.ID), nil
}

// RecordActivity implements hostapi.ActivityRecorder.
func (d *DB) RecordActivity(ctx context.Context, channel, accountID, direction string, at int64) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO activity_log (channel, account_id, direction, at) VALUES (?, ?, ?, ?)`,
		channel, accountID, direction, at,
	)
	return err
}

// BuildMentionPatterns implements hostapi.MentionPatternBuilder. The
// devstore has no display-name directory to derive extra patterns
// from, so it contributes none beyond the account's own configured
// list and localpart match.
func (d *DB) BuildMentionPatterns(ctx context.Context, accountID, roomJID string) ([]string, error) {
	return nil, nil
}

// Detect implements hostapi.CommandGate: a leading "!" marks a command,
// matching the convention in mellium's own example bots.
func (d *DB) Detect(body string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "!") {
		return "!", true
	}
	return "", false
}

// TextCommandsAllowed implements hostapi.CommandGate.
func (d *DB) TextCommandsAllowed(ctx context.Context, accountID string) (bool, error) {
	return true, nil
}

// TablesToPlaintext implements hostapi.MarkdownConverter. It strips
// markdown table delimiter rows and pipe characters, leaving the cell
// text space-separated; anything that isn't a table line passes
// through unchanged.
func (d *DB) TablesToPlaintext(markdown string) string {
	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isTableDelimiterRow(trimmed) {
			continue
		}
		if strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") {
			cells := strings.Split(strings.Trim(trimmed, "|"), "|")
			for i, c := range cells {
				cells[i] = strings.TrimSpace(c)
			}
			out = append(out, strings.Join(cells, "  "))
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isTableDelimiterRow(line string) bool {
	if !strings.HasPrefix(line, "|") {
		return false
	}
	for _, r := range line {
		switch r {
		case '|', '-', ':', ' ':
		default:
			return false
		}
	}
	return true
}

// Dispatch implements hostapi.BlockStreamingDispatcher as a minimal
// echo responder for standalone runs with no attached agent runtime:
// it delivers one chunk acknowledging receipt. A real gateway replaces
// this with its actual agent dispatch.
func (d *DB) Dispatch(ctx context.Context, payload hostapi.ContextPayload, opts hostapi.DispatchOptions, deliver func(context.Context, string) error) error {
	return deliver(ctx, fmt.Sprintf("(devstore) received: %s", payload.Body))
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
