package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mehran282/off-board-v1/models"
)

const runColumns = `id, type, status, started_at, completed_at, items_scraped, errors, metadata`

func scanRun(row Row) (models.ScrapingLog, error) {
	var (
		l           models.ScrapingLog
		typ, status string
	)
	err := scan(row, "scraping log",
		&l.ID, &typ, &status, &l.StartedAt, &l.CompletedAt, &l.ItemsScraped, &l.Errors, &l.Metadata,
	)
	l.Type, l.Status = models.RunType(typ), models.RunStatus(status)
	utc(&l.StartedAt)
	utc(l.CompletedAt)
	return l, err
}

// CreateRun inserts a ledger entry.
func CreateRun(ctx context.Context, q Querier, l models.ScrapingLog) error {
	_, err := q.Exec(ctx,
		`INSERT INTO scraping_logs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, string(l.Type), string(l.Status), l.StartedAt.UTC(), utcPtr(l.CompletedAt), l.ItemsScraped,
		l.Errors, l.Metadata,
	)
	return eris.Wrap(err, "store: insert scraping log")
}

func GetRun(ctx context.Context, q Querier, id string) (models.ScrapingLog, error) {
	return scanRun(q.QueryRow(ctx, `SELECT `+runColumns+` FROM scraping_logs WHERE id = ?`, id))
}

// LatestRun returns the most recently started ledger entry.
func LatestRun(ctx context.Context, q Querier) (models.ScrapingLog, error) {
	return scanRun(q.QueryRow(ctx, `SELECT `+runColumns+` FROM scraping_logs ORDER BY started_at DESC LIMIT 1`))
}

// SetRunItems records the items counter of a running entry.
func SetRunItems(ctx context.Context, q Querier, id string, items int) error {
	n, err := q.Exec(ctx,
		`UPDATE scraping_logs SET items_scraped = ? WHERE id = ? AND status = ?`,
		items, id, string(models.StatusRunning),
	)
	return affected(n, err, "checkpoint scraping log")
}

// FinishRun moves a running entry to a terminal status.
func FinishRun(ctx context.Context, q Querier, l models.ScrapingLog) error {
	n, err := q.Exec(ctx, `UPDATE scraping_logs SET
		status = ?, completed_at = ?, items_scraped = ?, errors = ?, metadata = ?
		WHERE id = ? AND status = ?`,
		string(l.Status), utcPtr(l.CompletedAt), l.ItemsScraped, l.Errors, l.Metadata,
		l.ID, string(models.StatusRunning),
	)
	return affected(n, err, "finish scraping log")
}

// ReapStaleRuns marks entries still running since before cutoff as failed
// and returns how many were changed.
func ReapStaleRuns(ctx context.Context, q Querier, cutoff, now time.Time, reason string) (int64, error) {
	n, err := q.Exec(ctx, `UPDATE scraping_logs SET status = ?, completed_at = ?, errors = ?
		WHERE status = ? AND started_at < ?`,
		string(models.StatusFailed), now.UTC(), reason, string(models.StatusRunning), cutoff.UTC(),
	)
	return n, eris.Wrap(err, "store: reap scraping logs")
}
