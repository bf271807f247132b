package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const runColumns = `r.id, r.campaign_id, r.status, r.summary, r.started_at, r.ended_at`

// Insert adds a new run. Returns ErrDuplicateKey if id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.CampaignRun) error {
	summary, err := marshalSummary(r.Summary)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO campaign_runs (id, campaign_id, status, summary, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.CampaignID, string(r.Status), summary, r.StartedAt, r.EndedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert campaign run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, id string) (*domain.CampaignRun, error) {
	query := `SELECT ` + runColumns + ` FROM campaign_runs r WHERE r.id = $1`

	r, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get campaign run by id: %w", err)
	}
	return r, nil
}

// GetLatestByCampaign retrieves the most recently started run of a campaign.
func (s *RunStore) GetLatestByCampaign(ctx context.Context, campaignID string) (*domain.CampaignRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM campaign_runs r
		WHERE r.campaign_id = $1
		ORDER BY r.started_at DESC
		LIMIT 1
	`

	r, err := scanRun(s.pool.QueryRow(ctx, query, campaignID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest campaign run: %w", err)
	}
	return r, nil
}

// ListActive retrieves running runs whose campaign is active, ordered by started_at ASC.
func (s *RunStore) ListActive(ctx context.Context) ([]*domain.CampaignRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM campaign_runs r
		JOIN campaigns c ON c.id = r.campaign_id
		WHERE r.status = 'running' AND c.status = 'active'
		ORDER BY r.started_at ASC, r.id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active campaign runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.CampaignRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign run rows: %w", err)
	}
	return runs, nil
}

// UpdateSummary replaces the summary blob of a run. Returns ErrNotFound if not exists.
func (s *RunStore) UpdateSummary(ctx context.Context, id string, summary *domain.RunSummary) error {
	data, err := marshalSummary(summary)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `UPDATE campaign_runs SET summary = $2 WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("update campaign run summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func marshalSummary(summary *domain.RunSummary) ([]byte, error) {
	if summary == nil {
		return nil, nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshal run summary: %w", err)
	}
	return data, nil
}

// scanRun scans a single row into a CampaignRun.
func scanRun(row pgx.Row) (*domain.CampaignRun, error) {
	var r domain.CampaignRun
	var status string
	var summary []byte

	if err := row.Scan(&r.ID, &r.CampaignID, &status, &summary, &r.StartedAt, &r.EndedAt); err != nil {
		return nil, err
	}

	r.Status = domain.RunStatus(status)
	if len(summary) > 0 {
		r.Summary = &domain.RunSummary{}
		if err := json.Unmarshal(summary, r.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal run summary: %w", err)
		}
	}
	return &r, nil
}
