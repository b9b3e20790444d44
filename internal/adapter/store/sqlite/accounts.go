package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/internal/core/ports"
)

var _ ports.AccountStore = (*Store)(nil)

// LoadAll returns every stored account, ordered by username
func (s *Store) LoadAll(ctx context.Context) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, display_name, profile_url, priority, active,
		       tags, created_at, updated_at, last_scraped_at,
		       last_error_message, last_error_at
		FROM accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, account *domain.Account) error {
	tags, err := json.Marshal(account.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags for %s: %w", account.ID, err)
	}

	var errMessage, errAt interface{}
	if account.LastError != nil {
		errMessage = account.LastError.Message
		errAt = encodeTime(account.LastError.At)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, display_name, profile_url,
		                      priority, active, tags, created_at, updated_at,
		                      last_scraped_at, last_error_message, last_error_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			profile_url = excluded.profile_url,
			priority = excluded.priority,
			active = excluded.active,
			tags = excluded.tags,
			updated_at = excluded.updated_at,
			last_scraped_at = excluded.last_scraped_at,
			last_error_message = excluded.last_error_message,
			last_error_at = excluded.last_error_at`,
		account.ID, account.Username, account.DisplayName, account.ProfileURL,
		account.Priority, account.Active, string(tags),
		encodeTime(account.CreatedAt), encodeTime(account.UpdatedAt),
		encodeOptionalTime(account.LastScrapedAt), errMessage, errAt)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", account.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.NewNotFoundError("account", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		account       domain.Account
		tagsRaw       string
		createdRaw    string
		updatedRaw    string
		lastScrapedNS sql.NullString
		errMessage    sql.NullString
		errAtRaw      sql.NullString
	)
	if err := row.Scan(&account.ID, &account.Username, &account.DisplayName,
		&account.ProfileURL, &account.Priority, &account.Active, &tagsRaw,
		&createdRaw, &updatedRaw, &lastScrapedNS, &errMessage, &errAtRaw); err != nil {
		return nil, fmt.Errorf("failed to scan account row: %w", err)
	}

	if err := json.Unmarshal([]byte(tagsRaw), &account.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for %s: %w", account.ID, err)
	}

	var err error
	if account.CreatedAt, err = decodeTime(createdRaw); err != nil {
		return nil, fmt.Errorf("bad created_at for %s: %w", account.ID, err)
	}
	if account.UpdatedAt, err = decodeTime(updatedRaw); err != nil {
		return nil, fmt.Errorf("bad updated_at for %s: %w", account.ID, err)
	}
	if account.LastScrapedAt, err = decodeOptionalTime(lastScrapedNS); err != nil {
		return nil, fmt.Errorf("bad last_scraped_at for %s: %w", account.ID, err)
	}

	if errMessage.Valid && errAtRaw.Valid {
		at, err := decodeTime(errAtRaw.String)
		if err != nil {
			return nil, fmt.Errorf("bad last_error_at for %s: %w", account.ID, err)
		}
		account.LastError = &domain.ScrapeError{Message: errMessage.String, At: at}
	}
	return &account, nil
}
