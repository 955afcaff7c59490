package db

import (
	"fmt"
)

// PortalSettings holds server identity persisted in the database.
type PortalSettings struct {
	Name       string
	SigningKey string
}

// GetPortalSettings retrieves the portal settings row.
func (db *DB) GetPortalSettings() (*PortalSettings, error) {
	var settings PortalSettings
	err := db.QueryRow("SELECT name, signing_key FROM portal_settings WHERE id = 1").Scan(
		&settings.Name,
		&settings.SigningKey,
	)
	if err != nil {
		return nil, fmt.Errorf("load portal settings: %w", err)
	}
	return &settings, nil
}

// UpdatePortalSettings overwrites the portal settings row.
func (db *DB) UpdatePortalSettings(settings *PortalSettings) error {
	_, err := db.Exec(
		"UPDATE portal_settings SET name = ?, signing_key = ? WHERE id = 1",
		settings.Name,
		settings.SigningKey,
	)
	if err != nil {
		return fmt.Errorf("update portal settings: %w", err)
	}
	return nil
}
