package packet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"packetwatch/internal/config"
)

// ErrRevisionConflict indicates a lifecycle write lost a race: the packet was
// mutated after the caller observed it. Stale completions surface as this.
var ErrRevisionConflict = errors.New("packet revision conflict")

// Store manages packet persistence backed by SQLite. It is the single source
// of truth for packets, their incidents, and their audit trails.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the packet database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "packets.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the packet database location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// NewPacket inserts a packet at intake: stage 0, in progress, with the intake
// audit entry. When id is empty a PKT-prefixed identifier is generated.
func (s *Store) NewPacket(ctx context.Context, id string, channel Channel, payload Payload) (*Packet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = "PKT-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if _, ok := channelSet[channel]; !ok {
		return nil, fmt.Errorf("unknown channel %q", channel)
	}

	fieldsJSON, err := marshalFields(payload.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal payload fields: %w", err)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO packets (
            id, channel, current_stage, status, created_at, last_update,
            revision, contains_phi, patient, provider, service, payload_fields
        ) VALUES (?, ?, 0, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		id,
		channel,
		StatusInProgress,
		timestamp,
		timestamp,
		boolToInt(payload.ContainsPHI),
		nullableString(payload.Patient),
		nullableString(payload.Provider),
		nullableString(payload.Service),
		nullableString(fieldsJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("insert packet: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO audit_entries (packet_id, stage, entered_at, manual, note) VALUES (?, 0, ?, 0, NULL)`,
		id,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert intake audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a packet with its incidents and audit trail as a single
// point-in-time snapshot. Returns nil when the packet does not exist.
func (s *Store) GetByID(ctx context.Context, id string) (*Packet, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+packetColumns+` FROM packets WHERE id = ?`, id)
	p, err := scanPacket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get packet: %w", err)
	}

	if err := s.loadSubcollections(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns packets filtered by status set (or all packets when no status
// is provided), ordered by creation time, each with incidents and audit trail
// loaded in the same snapshot.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Packet, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	baseQuery := `SELECT ` + packetColumns + ` FROM packets`
	orderClause := ` ORDER BY created_at, id`

	var rows *sql.Rows
	if len(statuses) == 0 {
		rows, err = tx.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = tx.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list packets: %w", err)
	}
	defer rows.Close()

	var packets []*Packet
	for rows.Next() {
		p, err := scanPacket(rows)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range packets {
		if err := s.loadSubcollections(ctx, tx, p); err != nil {
			return nil, err
		}
	}
	return packets, nil
}

// Stats returns a count of packets grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM packets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("packet stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// HealthSummary describes aggregated packet counts per lifecycle state.
type HealthSummary struct {
	Total            int
	InProgress       int
	ManualCorrection int
	APIError         int
	Delivered        int
}

// Health aggregates packet state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusInProgress:
			health.InProgress += count
		case StatusManualCorrection:
			health.ManualCorrection += count
		case StatusAPIError:
			health.APIError += count
		case StatusDelivered:
			health.Delivered += count
		}
	}
	return health, nil
}

// Remove deletes a packet and its owned records. Administrative use only; the
// lifecycle engine never deletes packets.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM packets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete packet: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) loadSubcollections(ctx context.Context, tx *sql.Tx, p *Packet) error {
	incidents, err := queryIncidents(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	p.ErrorLog = incidents

	audit, err := queryAudit(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	p.AuditTrail = audit
	return nil
}

const packetColumns = "id, channel, current_stage, status, created_at, last_update, revision, contains_phi, patient, provider, service, payload_fields"

func scanPacket(scanner interface{ Scan(dest ...any) error }) (*Packet, error) {
	var (
		id          string
		channelStr  string
		stage       int
		statusStr   string
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
		revision    int64
		containsPHI sql.NullInt64
		patient     sql.NullString
		provider    sql.NullString
		service     sql.NullString
		fieldsRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&channelStr,
		&stage,
		&statusStr,
		&createdRaw,
		&updatedRaw,
		&revision,
		&containsPHI,
		&patient,
		&provider,
		&service,
		&fieldsRaw,
	); err != nil {
		return nil, err
	}

	p := &Packet{
		ID:           id,
		Channel:      Channel(channelStr),
		CurrentStage: stage,
		Status:       Status(statusStr),
		Revision:     revision,
		Payload: Payload{
			ContainsPHI: containsPHI.Valid && containsPHI.Int64 != 0,
			Patient:     patient.String,
			Provider:    provider.String,
			Service:     service.String,
		},
	}

	if fieldsRaw.Valid && fieldsRaw.String != "" {
		fields := map[string]string{}
		if err := json.Unmarshal([]byte(fieldsRaw.String), &fields); err == nil {
			p.Payload.Fields = fields
		}
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		p.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		p.LastUpdate = updated
	}
	return p, nil
}

func marshalFields(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
