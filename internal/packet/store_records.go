package packet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const incidentColumns = "code, category, severity, message, description, resolution_hint, auto_retry, override_options, stage, occurred_at"

func queryIncidents(ctx context.Context, tx *sql.Tx, packetID string) ([]Incident, error) {
	rows, err := tx.QueryContext(
		ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE packet_id = ? ORDER BY id`,
		packetID,
	)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		var (
			inc         Incident
			category    sql.NullString
			message     sql.NullString
			description sql.NullString
			hint        sql.NullString
			autoRetry   int
			optionsRaw  sql.NullString
			occurredRaw sql.NullString
		)
		if err := rows.Scan(
			&inc.Code,
			&category,
			&inc.Severity,
			&message,
			&description,
			&hint,
			&autoRetry,
			&optionsRaw,
			&inc.Stage,
			&occurredRaw,
		); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.Category = category.String
		inc.Message = message.String
		inc.Description = description.String
		inc.ResolutionHint = hint.String
		inc.AutoRetryEnabled = autoRetry != 0
		if optionsRaw.Valid && optionsRaw.String != "" {
			var options []string
			if err := json.Unmarshal([]byte(optionsRaw.String), &options); err == nil {
				inc.OverrideOptions = options
			}
		}
		if occurred, err := parseTimeString(occurredRaw.String); err == nil {
			inc.OccurredAt = occurred
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func insertIncident(ctx context.Context, tx *sql.Tx, packetID string, inc Incident) error {
	var optionsJSON any
	if len(inc.OverrideOptions) > 0 {
		raw, err := json.Marshal(inc.OverrideOptions)
		if err != nil {
			return fmt.Errorf("marshal override options: %w", err)
		}
		optionsJSON = string(raw)
	}

	occurred := inc.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO incidents (
            packet_id, code, category, severity, message, description,
            resolution_hint, auto_retry, override_options, stage, occurred_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		packetID,
		inc.Code,
		nullableString(inc.Category),
		inc.Severity,
		nullableString(inc.Message),
		nullableString(inc.Description),
		nullableString(inc.ResolutionHint),
		boolToInt(inc.AutoRetryEnabled),
		optionsJSON,
		inc.Stage,
		occurred.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func queryAudit(ctx context.Context, tx *sql.Tx, packetID string) ([]AuditEntry, error) {
	rows, err := tx.QueryContext(
		ctx,
		`SELECT stage, entered_at, manual, note FROM audit_entries WHERE packet_id = ? ORDER BY id`,
		packetID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			entry      AuditEntry
			enteredRaw sql.NullString
			manual     int
			note       sql.NullString
		)
		if err := rows.Scan(&entry.Stage, &enteredRaw, &manual, &note); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Manual = manual != 0
		entry.Note = note.String
		if entered, err := parseTimeString(enteredRaw.String); err == nil {
			entry.EnteredAt = entered
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func insertAudit(ctx context.Context, tx *sql.Tx, packetID string, entry AuditEntry) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO audit_entries (packet_id, stage, entered_at, manual, note) VALUES (?, ?, ?, ?, ?)`,
		packetID,
		entry.Stage,
		entry.EnteredAt.UTC().Format(time.RFC3339Nano),
		boolToInt(entry.Manual),
		nullableString(entry.Note),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
