package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openavatar/concierge/internal/domain"
	"github.com/openavatar/concierge/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS wizard_sessions (
		connection_id TEXT PRIMARY KEY,
		current_step TEXT NOT NULL,
		avatar_ref TEXT,
		voice_ref TEXT,
		language_code TEXT,
		display_name TEXT,
		personality TEXT,
		started_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wizard_sessions_expires ON wizard_sessions(expires_at);

	CREATE TABLE IF NOT EXISTS avatar_configs (
		id TEXT PRIMARY KEY,
		owner_connection_id TEXT NOT NULL,
		name TEXT NOT NULL,
		avatar_ref TEXT NOT NULL,
		voice_ref TEXT NOT NULL,
		language_code TEXT NOT NULL,
		personality TEXT,
		credential_definition_id TEXT,
		credential_request_id TEXT,
		credential_issued_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_avatar_configs_owner_name
		ON avatar_configs(owner_connection_id, name COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_avatar_configs_request
		ON avatar_configs(credential_request_id) WHERE credential_request_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS pending_presentations (
		id TEXT PRIMARY KEY,
		proof_exchange_id TEXT UNIQUE,
		requester_connection_id TEXT,
		avatar_config_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		verified_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_pending_presentations_open
		ON pending_presentations(requester_connection_id, avatar_config_id) WHERE status = 'pending';
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves the wizard session for a connection. Expired sessions
// are filtered at read time; the sweeper removes the rows later.
func (s *SQLiteStore) GetSession(ctx context.Context, connectionID string) (*domain.WizardSession, error) {
	query := `
		SELECT connection_id, current_step, avatar_ref, voice_ref, language_code,
		       display_name, personality, started_at, expires_at
		FROM wizard_sessions WHERE connection_id = ?`

	row := s.db.QueryRowContext(ctx, query, connectionID)

	var sess domain.WizardSession
	var step string
	var avatarRef, voiceRef, langCode, name, personality sql.NullString
	var startedAt, expiresAt int64

	err := row.Scan(
		&sess.ConnectionID, &step, &avatarRef, &voiceRef, &langCode,
		&name, &personality, &startedAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan wizard session: %w", err)
	}

	sess.CurrentStep = domain.Step(step)
	sess.AvatarRef = avatarRef.String
	sess.VoiceRef = voiceRef.String
	sess.LanguageCode = langCode.String
	sess.Name = name.String
	if personality.Valid {
		sess.Personality = &personality.String
	}
	sess.StartedAt = time.Unix(startedAt, 0)
	sess.ExpiresAt = time.Unix(expiresAt, 0)

	if sess.Expired(time.Now()) {
		return nil, nil
	}
	return &sess, nil
}

// PutSession creates or replaces the wizard session for a connection.
func (s *SQLiteStore) PutSession(ctx context.Context, session *domain.WizardSession) error {
	query := `
	INSERT INTO wizard_sessions (
		connection_id, current_step, avatar_ref, voice_ref, language_code,
		display_name, personality, started_at, expires_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(connection_id) DO UPDATE SET
		current_step = excluded.current_step,
		avatar_ref = excluded.avatar_ref,
		voice_ref = excluded.voice_ref,
		language_code = excluded.language_code,
		display_name = excluded.display_name,
		personality = excluded.personality,
		started_at = excluded.started_at,
		expires_at = excluded.expires_at`

	_, err := s.db.ExecContext(ctx, query,
		session.ConnectionID, string(session.CurrentStep),
		nullIfEmpty(session.AvatarRef), nullIfEmpty(session.VoiceRef),
		nullIfEmpty(session.LanguageCode), nullIfEmpty(session.Name),
		nullString(session.Personality),
		session.StartedAt.Unix(), session.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("put wizard session: %w", err)
	}
	return nil
}

// DeleteSession removes the wizard session for a connection.
func (s *SQLiteStore) DeleteSession(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wizard_sessions WHERE connection_id = ?`, connectionID)
	if err != nil {
		return fmt.Errorf("delete wizard session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions whose expiry has passed.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM wizard_sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

const configColumns = `id, owner_connection_id, name, avatar_ref, voice_ref, language_code,
	personality, credential_definition_id, credential_request_id, credential_issued_at,
	created_at, updated_at`

// CreateConfig inserts a new avatar config.
func (s *SQLiteStore) CreateConfig(ctx context.Context, cfg *domain.AvatarConfig) error {
	return createConfig(ctx, s.db, cfg)
}

// execer covers both *sql.DB and *sql.Tx so CommitWizard can share the insert.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func createConfig(ctx context.Context, db execer, cfg *domain.AvatarConfig) error {
	query := `
	INSERT INTO avatar_configs (` + configColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var issuedAt interface{}
	if cfg.CredentialIssuedAt != nil {
		issuedAt = cfg.CredentialIssuedAt.Unix()
	}

	_, err := db.ExecContext(ctx, query,
		cfg.ID, cfg.OwnerConnectionID, cfg.Name,
		cfg.AvatarRef, cfg.VoiceRef, cfg.LanguageCode,
		nullString(cfg.Personality),
		nullIfEmpty(cfg.CredentialDefinitionID), nullIfEmpty(cfg.CredentialRequestID),
		issuedAt, cfg.CreatedAt.Unix(), cfg.UpdatedAt.Unix(),
	)
	if err != nil {
		if shared.IsSQLiteUniqueError(err) {
			return domain.ErrNameTaken
		}
		return fmt.Errorf("insert avatar config: %w", err)
	}
	return nil
}

// GetConfig retrieves a config by id.
func (s *SQLiteStore) GetConfig(ctx context.Context, id string) (*domain.AvatarConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM avatar_configs WHERE id = ?`, id)
	return scanConfig(row)
}

// GetConfigByName retrieves a config by owner and case-insensitive name.
func (s *SQLiteStore) GetConfigByName(ctx context.Context, ownerConnectionID, name string) (*domain.AvatarConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM avatar_configs
		 WHERE owner_connection_id = ? AND name = ? COLLATE NOCASE`,
		ownerConnectionID, name)
	return scanConfig(row)
}

// GetConfigByCredentialRequest retrieves the config correlated with an
// issuance request id.
func (s *SQLiteStore) GetConfigByCredentialRequest(ctx context.Context, requestID string) (*domain.AvatarConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM avatar_configs WHERE credential_request_id = ?`,
		requestID)
	return scanConfig(row)
}

// ListConfigs returns all configs owned by a connection, oldest first.
func (s *SQLiteStore) ListConfigs(ctx context.Context, ownerConnectionID string) ([]*domain.AvatarConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM avatar_configs
		 WHERE owner_connection_id = ? ORDER BY created_at, id`,
		ownerConnectionID)
	if err != nil {
		return nil, fmt.Errorf("query avatar configs: %w", err)
	}
	defer rows.Close()

	var configs []*domain.AvatarConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate avatar configs: %w", err)
	}
	return configs, nil
}

// SetCredentialRequest stamps the credential definition and issuance
// correlation id on a config.
func (s *SQLiteStore) SetCredentialRequest(ctx context.Context, id, definitionID, requestID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE avatar_configs
		 SET credential_definition_id = ?, credential_request_id = ?, updated_at = ?
		 WHERE id = ?`,
		definitionID, requestID, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set credential request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkCredentialIssued sets the credential-issued timestamp at most once.
// The guard in the WHERE clause enforces the ordering invariant: a definition
// must be set first and an existing stamp is never overwritten.
func (s *SQLiteStore) MarkCredentialIssued(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE avatar_configs
		 SET credential_issued_at = ?, updated_at = ?
		 WHERE id = ? AND credential_definition_id IS NOT NULL AND credential_issued_at IS NULL`,
		at.Unix(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark credential issued: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		cfg, err := s.GetConfig(ctx, id)
		if err != nil {
			return err
		}
		if cfg == nil || !cfg.Protected() {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadyResolved
	}
	return nil
}

// CommitWizard atomically creates the avatar config and deletes the owner's
// wizard session.
func (s *SQLiteStore) CommitWizard(ctx context.Context, cfg *domain.AvatarConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wizard commit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := createConfig(ctx, tx, cfg); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wizard_sessions WHERE connection_id = ?`, cfg.OwnerConnectionID); err != nil {
		return fmt.Errorf("delete committed session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wizard: %w", err)
	}
	return nil
}

// CreatePresentation inserts a new pending presentation.
func (s *SQLiteStore) CreatePresentation(ctx context.Context, p *domain.PendingPresentation) error {
	query := `
	INSERT INTO pending_presentations (
		id, proof_exchange_id, requester_connection_id, avatar_config_id,
		status, created_at, expires_at, verified_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var verifiedAt interface{}
	if p.VerifiedAt != nil {
		verifiedAt = p.VerifiedAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		p.ID, nullIfEmpty(p.ProofExchangeID), nullIfEmpty(p.RequesterConnectionID),
		p.AvatarConfigID, string(p.Status),
		p.CreatedAt.Unix(), p.ExpiresAt.Unix(), verifiedAt,
	)
	if err != nil {
		return fmt.Errorf("insert presentation: %w", err)
	}
	return nil
}

// SetProofExchangeID records the authority-assigned correlation token.
func (s *SQLiteStore) SetProofExchangeID(ctx context.Context, id, proofExchangeID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pending_presentations SET proof_exchange_id = ? WHERE id = ?`,
		proofExchangeID, id)
	if err != nil {
		return fmt.Errorf("set proof exchange id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const presentationColumns = `id, proof_exchange_id, requester_connection_id,
	avatar_config_id, status, created_at, expires_at, verified_at`

// GetPresentationByExchange retrieves a presentation by correlation token.
func (s *SQLiteStore) GetPresentationByExchange(ctx context.Context, proofExchangeID string) (*domain.PendingPresentation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+presentationColumns+` FROM pending_presentations WHERE proof_exchange_id = ?`,
		proofExchangeID)
	return scanPresentation(row)
}

// GetOpenPresentation returns the pending, non-expired presentation for a
// (requester, config) pair.
func (s *SQLiteStore) GetOpenPresentation(ctx context.Context, requesterConnectionID, configID string) (*domain.PendingPresentation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+presentationColumns+` FROM pending_presentations
		 WHERE requester_connection_id = ? AND avatar_config_id = ?
		   AND status = 'pending' AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		requesterConnectionID, configID, time.Now().Unix())
	return scanPresentation(row)
}

// ResolvePresentation applies a terminal status. The status = 'pending' guard
// makes a second terminal transition a no-op, so a verified presentation is
// never overwritten with rejected.
func (s *SQLiteStore) ResolvePresentation(ctx context.Context, proofExchangeID string, status domain.PresentationStatus, at time.Time) error {
	var verifiedAt interface{}
	if status == domain.PresentationVerified {
		verifiedAt = at.Unix()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE pending_presentations SET status = ?, verified_at = ?
		 WHERE proof_exchange_id = ? AND status = 'pending'`,
		string(status), verifiedAt, proofExchangeID)
	if err != nil {
		return fmt.Errorf("resolve presentation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		p, err := s.GetPresentationByExchange(ctx, proofExchangeID)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadyResolved
	}
	return nil
}

// DeletePresentation removes a presentation row.
func (s *SQLiteStore) DeletePresentation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_presentations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete presentation: %w", err)
	}
	return nil
}

// ExpirePresentations marks pending presentations past expiry as expired.
func (s *SQLiteStore) ExpirePresentations(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE pending_presentations SET status = 'expired'
		 WHERE status = 'pending' AND expires_at <= ?`,
		now.Unix())
	if err != nil {
		return 0, fmt.Errorf("expire presentations: %w", err)
	}
	return result.RowsAffected()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row scanner) (*domain.AvatarConfig, error) {
	var cfg domain.AvatarConfig
	var personality, definitionID, requestID sql.NullString
	var issuedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&cfg.ID, &cfg.OwnerConnectionID, &cfg.Name,
		&cfg.AvatarRef, &cfg.VoiceRef, &cfg.LanguageCode,
		&personality, &definitionID, &requestID, &issuedAt,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan avatar config: %w", err)
	}

	if personality.Valid {
		cfg.Personality = &personality.String
	}
	cfg.CredentialDefinitionID = definitionID.String
	cfg.CredentialRequestID = requestID.String
	if issuedAt.Valid {
		ts := time.Unix(issuedAt.Int64, 0)
		cfg.CredentialIssuedAt = &ts
	}
	cfg.CreatedAt = time.Unix(createdAt, 0)
	cfg.UpdatedAt = time.Unix(updatedAt, 0)
	return &cfg, nil
}

func scanPresentation(row scanner) (*domain.PendingPresentation, error) {
	var p domain.PendingPresentation
	var exchangeID, requesterID sql.NullString
	var status string
	var verifiedAt sql.NullInt64
	var createdAt, expiresAt int64

	err := row.Scan(
		&p.ID, &exchangeID, &requesterID, &p.AvatarConfigID,
		&status, &createdAt, &expiresAt, &verifiedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan presentation: %w", err)
	}

	p.ProofExchangeID = exchangeID.String
	p.RequesterConnectionID = requesterID.String
	p.Status = domain.PresentationStatus(status)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.ExpiresAt = time.Unix(expiresAt, 0)
	if verifiedAt.Valid {
		ts := time.Unix(verifiedAt.Int64, 0)
		p.VerifiedAt = &ts
	}
	return &p, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
