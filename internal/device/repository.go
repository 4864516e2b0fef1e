package device

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/dlink-core/internal/dlink"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device identity by its unique identifier.
	// Returns ErrNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Identity, error)

	// GetByMAC retrieves a device identity by canonical MAC.
	// Returns ErrNotFound if no device records that MAC.
	GetByMAC(ctx context.Context, mac string) (*Identity, error)

	// List retrieves all device identities.
	List(ctx context.Context) ([]Identity, error)

	// Create inserts a new device identity.
	// Returns ErrExists if a device with the same ID already exists.
	Create(ctx context.Context, identity *Identity) error

	// Update modifies an existing device identity.
	// Returns ErrNotFound if the device does not exist.
	Update(ctx context.Context, identity *Identity) error

	// Replace rewrites the row stored under previousID with the given
	// identity, re-keying it when the id changed (wrong-MAC rebuilds).
	// Returns ErrNotFound if no row has previousID.
	Replace(ctx context.Context, previousID string, identity *Identity) error

	// Delete removes a device by ID.
	// Returns ErrNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateAddress records a new IP address for a device. Optimised
	// for discovery-driven address changes.
	UpdateAddress(ctx context.Context, id, address string) error
}

// SQLiteRepository implements Repository using SQLite. PINs are
// obfuscated with the configured secret before hitting disk; rows read
// back carry the cleartext PIN in memory only.
type SQLiteRepository struct {
	db     *sql.DB
	secret string
}

// NewSQLiteRepository creates a SQLite-backed repository. The secret
// obfuscates stored PINs; an empty secret stores them as plain hex.
func NewSQLiteRepository(db *sql.DB, secret string) *SQLiteRepository {
	return &SQLiteRepository{db: db, secret: secret}
}

const identityColumns = `id, mac, address, pin_obfuscated, model, name,
	enabled, poll_interval_ms, use_websocket, created_at, updated_at`

// GetByID retrieves a device identity by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM devices WHERE id = ?`

	identity, err := r.scanIdentity(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return identity, nil
}

// GetByMAC retrieves a device identity by canonical MAC.
func (r *SQLiteRepository) GetByMAC(ctx context.Context, mac string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM devices WHERE mac = ?`

	identity, err := r.scanIdentity(r.db.QueryRowContext(ctx, query, dlink.FormatMAC(mac)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by mac: %w", err)
	}
	return identity, nil
}

// List retrieves all device identities ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM devices ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only result set

	var identities []Identity
	for rows.Next() {
		identity, err := r.scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		identities = append(identities, *identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return identities, nil
}

// Create inserts a new device identity.
func (r *SQLiteRepository) Create(ctx context.Context, identity *Identity) error {
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	query := `
		INSERT INTO devices (` + identityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		identity.ID,
		dlink.FormatMAC(identity.MAC),
		identity.Address,
		r.encodePIN(identity.PIN),
		identity.Model,
		identity.Name,
		identity.Enabled,
		identity.PollIntervalMs,
		identity.UseWebsocket,
		identity.CreatedAt.UTC().Format(time.RFC3339),
		identity.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device identity.
func (r *SQLiteRepository) Update(ctx context.Context, identity *Identity) error {
	identity.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices
		SET mac = ?, address = ?, pin_obfuscated = ?, model = ?, name = ?,
			enabled = ?, poll_interval_ms = ?, use_websocket = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		dlink.FormatMAC(identity.MAC),
		identity.Address,
		r.encodePIN(identity.PIN),
		identity.Model,
		identity.Name,
		identity.Enabled,
		identity.PollIntervalMs,
		identity.UseWebsocket,
		identity.UpdatedAt.UTC().Format(time.RFC3339),
		identity.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(result)
}

// Replace rewrites the row stored under previousID, re-keying the
// primary key when an identity correction changed the device id.
func (r *SQLiteRepository) Replace(ctx context.Context, previousID string, identity *Identity) error {
	identity.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices
		SET id = ?, mac = ?, address = ?, pin_obfuscated = ?, model = ?, name = ?,
			enabled = ?, poll_interval_ms = ?, use_websocket = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		identity.ID,
		dlink.FormatMAC(identity.MAC),
		identity.Address,
		r.encodePIN(identity.PIN),
		identity.Model,
		identity.Name,
		identity.Enabled,
		identity.PollIntervalMs,
		identity.UseWebsocket,
		identity.UpdatedAt.UTC().Format(time.RFC3339),
		previousID,
	)
	if err != nil {
		return fmt.Errorf("replacing device: %w", err)
	}
	return requireRow(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// UpdateAddress records a new IP address for a device.
func (r *SQLiteRepository) UpdateAddress(ctx context.Context, id, address string) error {
	query := `UPDATE devices SET address = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, address, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating device address: %w", err)
	}
	return requireRow(result)
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanIdentity(row scanner) (*Identity, error) {
	var identity Identity
	var encodedPIN string
	var createdAt, updatedAt string

	err := row.Scan(
		&identity.ID,
		&identity.MAC,
		&identity.Address,
		&encodedPIN,
		&identity.Model,
		&identity.Name,
		&identity.Enabled,
		&identity.PollIntervalMs,
		&identity.UseWebsocket,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Timestamps live in TEXT columns as RFC3339.
	if identity.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", identity.ID, err)
	}
	if identity.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", identity.ID, err)
	}

	identity.PIN, err = r.decodePIN(encodedPIN)
	if err != nil {
		return nil, fmt.Errorf("decoding pin for %s: %w", identity.ID, err)
	}
	return &identity, nil
}

// encodePIN obfuscates the PIN with the repository secret and hex
// encodes the result so the column stays printable.
func (r *SQLiteRepository) encodePIN(pin string) string {
	return hex.EncodeToString([]byte(dlink.Obfuscate(r.secret, pin)))
}

func (r *SQLiteRepository) decodePIN(encoded string) (string, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return dlink.Obfuscate(r.secret, string(raw)), nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation detects SQLite unique-constraint errors without
// binding to the driver's error type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
