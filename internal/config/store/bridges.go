package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Bridge is a saved connection profile for a Trestle bridge.
type Bridge struct {
	Name      string
	Address   string
	Token     string // decrypted; empty when the bridge needs no auth
	IsDefault bool
	CreatedAt string
	UpdatedAt string
}

// SaveBridge inserts or updates a bridge profile. The token is encrypted at
// rest. The first bridge saved into an empty store becomes the default; an
// explicit IsDefault replaces the previous default.
func (s *Store) SaveBridge(ctx context.Context, bridge Bridge) error {
	if s.readOnly {
		return fmt.Errorf("config: save bridge: store opened read-only")
	}

	name := strings.TrimSpace(bridge.Name)
	if name == "" {
		return fmt.Errorf("config: save bridge: name must not be empty")
	}
	if strings.TrimSpace(bridge.Address) == "" {
		return fmt.Errorf("config: save bridge %q: address must not be empty", name)
	}

	storedToken := bridge.Token
	if storedToken != "" {
		if s.encryptionKey == nil {
			return fmt.Errorf("config: save bridge %q: no encryption key available for token", name)
		}
		encrypted, err := encryptValue(s.encryptionKey, storedToken)
		if err != nil {
			return fmt.Errorf("config: encrypt token for bridge %q: %w", name, err)
		}
		storedToken = encrypted
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		makeDefault := bridge.IsDefault
		if !makeDefault {
			// Without an explicit default this bridge still becomes (or
			// stays) the default when no other bridge holds the flag.
			var others int
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM bridges WHERE is_default = 1 AND name != ?
			`, name).Scan(&others); err != nil {
				return fmt.Errorf("config: count default bridges: %w", err)
			}
			makeDefault = others == 0
		}

		if makeDefault {
			if _, err := tx.ExecContext(ctx, `
				UPDATE bridges
				SET is_default = 0,
				    updated_at = CURRENT_TIMESTAMP
				WHERE is_default = 1 AND name != ?
			`, name); err != nil {
				return fmt.Errorf("config: clear default bridge: %w", err)
			}
		}

		isDefault := 0
		if makeDefault {
			isDefault = 1
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bridges (name, address, token, is_default, created_at, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(name) DO UPDATE SET
				address = excluded.address,
				token = excluded.token,
				is_default = excluded.is_default,
				updated_at = CURRENT_TIMESTAMP
		`, name, bridge.Address, storedToken, isDefault); err != nil {
			return fmt.Errorf("config: save bridge %q: %w", name, err)
		}

		return nil
	})
}

// GetBridge returns the bridge profile with the given name.
func (s *Store) GetBridge(ctx context.Context, name string) (Bridge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, address, token, is_default, created_at, updated_at
		FROM bridges
		WHERE name = ?
	`, name)

	bridge, err := s.scanBridge(row)
	if err == sql.ErrNoRows {
		return Bridge{}, NotFoundError{Entity: "bridge", Key: name}
	}
	if err != nil {
		return Bridge{}, fmt.Errorf("config: get bridge %q: %w", name, err)
	}
	return bridge, nil
}

// DefaultBridge returns the bridge marked as default.
func (s *Store) DefaultBridge(ctx context.Context) (Bridge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, address, token, is_default, created_at, updated_at
		FROM bridges
		WHERE is_default = 1
	`)

	bridge, err := s.scanBridge(row)
	if err == sql.ErrNoRows {
		return Bridge{}, NotFoundError{Entity: "default bridge"}
	}
	if err != nil {
		return Bridge{}, fmt.Errorf("config: get default bridge: %w", err)
	}
	return bridge, nil
}

// ListBridges returns all bridge profiles ordered by name.
func (s *Store) ListBridges(ctx context.Context) ([]Bridge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, address, token, is_default, created_at, updated_at
		FROM bridges
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("config: list bridges: %w", err)
	}
	defer rows.Close()

	var bridges []Bridge
	for rows.Next() {
		bridge, err := s.scanBridge(rows)
		if err != nil {
			return nil, fmt.Errorf("config: scan bridge: %w", err)
		}
		bridges = append(bridges, bridge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate bridges: %w", err)
	}

	return bridges, nil
}

// DeleteBridge removes a bridge profile and its voice settings.
func (s *Store) DeleteBridge(ctx context.Context, name string) error {
	if s.readOnly {
		return fmt.Errorf("config: delete bridge: store opened read-only")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM bridges WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("config: delete bridge %q: %w", name, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return NotFoundError{Entity: "bridge", Key: name}
	}

	return nil
}

// SetDefaultBridge marks the named bridge as the default connection target.
func (s *Store) SetDefaultBridge(ctx context.Context, name string) error {
	if s.readOnly {
		return fmt.Errorf("config: set default bridge: store opened read-only")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM bridges WHERE name = ?
			)
		`, name).Scan(&exists); err != nil {
			return fmt.Errorf("config: check bridge %q: %w", name, err)
		}
		if !exists {
			return NotFoundError{Entity: "bridge", Key: name}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE bridges
			SET is_default = 0,
			    updated_at = CURRENT_TIMESTAMP
			WHERE is_default = 1
		`); err != nil {
			return fmt.Errorf("config: clear default bridge: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE bridges
			SET is_default = 1,
			    updated_at = CURRENT_TIMESTAMP
			WHERE name = ?
		`, name)
		if err != nil {
			return fmt.Errorf("config: update default bridge: %w", err)
		}

		rows, _ := res.RowsAffected()
		if rows == 0 {
			return NotFoundError{Entity: "bridge", Key: name}
		}

		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanBridge(row rowScanner) (Bridge, error) {
	var (
		bridge    Bridge
		token     string
		isDefault int
	)
	if err := row.Scan(&bridge.Name, &bridge.Address, &token, &isDefault, &bridge.CreatedAt, &bridge.UpdatedAt); err != nil {
		return Bridge{}, err
	}
	bridge.IsDefault = isDefault == 1

	decrypted, err := s.decodeToken(bridge.Name, token)
	if err != nil {
		return Bridge{}, err
	}
	bridge.Token = decrypted

	return bridge, nil
}

// decodeToken returns the plaintext token for a stored value. Plaintext
// values pass through unchanged so a read-only open of a legacy database
// (where migration has not run) stays usable.
func (s *Store) decodeToken(name, stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if !strings.HasPrefix(stored, encPrefix) {
		return stored, nil
	}
	if s.encryptionKey == nil {
		return "", fmt.Errorf("config: token for bridge %q is encrypted but no decryption key is available", name)
	}
	decrypted, err := decryptValue(s.encryptionKey, stored)
	if err != nil {
		return "", fmt.Errorf("config: decrypt token for bridge %q: %w", name, err)
	}
	return decrypted, nil
}
