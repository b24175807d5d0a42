package reportstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/model"
)

type reportstore struct {
	db *sqlx.DB
}

type resultRow struct {
	ID         string         `db:"ID"`
	ReportID   string         `db:"ReportID"`
	Position   int            `db:"Position"`
	Channel    string         `db:"Channel"`
	Success    bool           `db:"Success"`
	ExternalID string         `db:"ExternalID"`
	URL        string         `db:"URL"`
	ErrorKind  string         `db:"ErrorKind"`
	Error      string         `db:"Error"`
	Retryable  bool           `db:"Retryable"`
	Delivery   sql.NullString `db:"Delivery"`
	Timestamp  time.Time      `db:"Timestamp"`
	DurationMS int64          `db:"DurationMS"`
}

// New opens the report database named by the config, creating it as needed.
func New(config *boot.Config) (*reportstore, error) {
	dbName := config.DatabaseFile()
	if err := os.MkdirAll(filepath.Dir(dbName), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return open("file:" + dbName + "?_busy_timeout=5000&_journal_mode=WAL")
}

// NewInMemory opens a private in-memory database, used by tests and by
// deployments that do not need report history.
func NewInMemory(name string) (*reportstore, error) {
	store, err := open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		return nil, err
	}
	store.db.SetMaxOpenConns(1)
	return store, nil
}

func open(dsn string) (*reportstore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &reportstore{db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return store, nil
}

func (d *reportstore) Close() error {
	return d.db.Close()
}

func (d *reportstore) createTables() error {
	_, err := d.db.Exec(`create table if not exists report(
		ID          text not null primary key,
		DraftID     text not null,
		CampaignID  text not null default '',
		Status      text not null,
		Fingerprint text not null,
		Successful  integer not null default 0,
		Failed      integer not null default 0,
		CreatedAt   DATETIME not null
	)`)
	if err != nil {
		return fmt.Errorf("creating report table: %w", err)
	}

	_, err = d.db.Exec(`create index if not exists report_draft on report(DraftID, CreatedAt)`)
	if err != nil {
		return fmt.Errorf("creating report index: %w", err)
	}

	_, err = d.db.Exec(`create table if not exists result(
		ID         text not null primary key,
		ReportID   text not null references report(ID),
		Position   integer not null,
		Channel    text not null,
		Success    tinyint not null,
		ExternalID text not null default '',
		URL        text not null default '',
		ErrorKind  text not null default '',
		Error      text not null default '',
		Retryable  tinyint not null default 0,
		Delivery   text null,
		Timestamp  DATETIME not null,
		DurationMS integer not null default 0
	)`)
	if err != nil {
		return fmt.Errorf("creating result table: %w", err)
	}

	_, err = d.db.Exec(`create table if not exists draft(
		ID        text not null primary key,
		Status    text not null,
		ReportID  text not null,
		UpdatedAt DATETIME not null
	)`)
	if err != nil {
		return fmt.Errorf("creating draft table: %w", err)
	}

	return nil
}

// SaveReport stores the report with its results and moves the draft to the
// report's status in one transaction.
func (d *reportstore) SaveReport(ctx context.Context, report *model.PublishReport) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `insert into report
		(ID, DraftID, CampaignID, Status, Fingerprint, Successful, Failed, CreatedAt)
		values(:ID, :DraftID, :CampaignID, :Status, :Fingerprint, :Successful, :Failed, :CreatedAt)`, report)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if rows != 1 {
		return fmt.Errorf("expected 1 row to be affected, got %d", rows)
	}

	for i, result := range report.Results {
		row, err := toRow(report.ID, i, result)
		if err != nil {
			return err
		}
		_, err = tx.NamedExecContext(ctx, `insert into result
			(ID, ReportID, Position, Channel, Success, ExternalID, URL, ErrorKind, Error, Retryable, Delivery, Timestamp, DurationMS)
			values(:ID, :ReportID, :Position, :Channel, :Success, :ExternalID, :URL, :ErrorKind, :Error, :Retryable, :Delivery, :Timestamp, :DurationMS)`, row)
		if err != nil {
			return fmt.Errorf("inserting result for %s: %w", result.Channel, err)
		}
	}

	_, err = tx.ExecContext(ctx, `insert into draft (ID, Status, ReportID, UpdatedAt) values(?, ?, ?, ?)
		on conflict(ID) do update set Status = excluded.Status, ReportID = excluded.ReportID, UpdatedAt = excluded.UpdatedAt`,
		report.DraftID, report.Status, report.ID, report.CreatedAt)
	if err != nil {
		return fmt.Errorf("updating draft status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing report: %w", err)
	}
	return nil
}

func (d *reportstore) LatestReport(ctx context.Context, draftID string) (*model.PublishReport, error) {
	report := &model.PublishReport{}
	err := d.db.GetContext(ctx, report, `select ID, DraftID, CampaignID, Status, Fingerprint, Successful, Failed, CreatedAt
		from report where DraftID = ? order by CreatedAt desc, rowid desc limit 1`, draftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorReportNotFound
		}
		return nil, fmt.Errorf("fetching report: %w", err)
	}

	rows := []resultRow{}
	err = d.db.SelectContext(ctx, &rows, `select * from result where ReportID = ? order by Position`, report.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching results: %w", err)
	}

	report.Results = make([]model.PublishResult, 0, len(rows))
	for _, row := range rows {
		result, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, result)
	}
	return report, nil
}

func (d *reportstore) DraftStatus(ctx context.Context, draftID string) (model.DraftStatus, error) {
	var status string
	err := d.db.GetContext(ctx, &status, `select Status from draft where ID = ?`, draftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.ErrorReportNotFound
		}
		return "", fmt.Errorf("fetching draft status: %w", err)
	}
	return model.DraftStatus(status), nil
}

func toRow(reportID string, position int, result model.PublishResult) (*resultRow, error) {
	row := &resultRow{
		ID:         result.ID,
		ReportID:   reportID,
		Position:   position,
		Channel:    string(result.Channel),
		Success:    result.Success,
		ExternalID: result.ExternalID,
		URL:        result.URL,
		ErrorKind:  string(result.ErrorKind),
		Error:      result.Error,
		Retryable:  result.Retryable,
		Timestamp:  result.Timestamp,
		DurationMS: result.DurationMS,
	}
	if row.ID == "" {
		row.ID = fmt.Sprintf("%s-%d", reportID, position)
	}
	if result.Delivery != nil {
		raw, err := json.Marshal(result.Delivery)
		if err != nil {
			return nil, fmt.Errorf("marshalling delivery summary: %w", err)
		}
		row.Delivery = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}

func fromRow(row resultRow) (model.PublishResult, error) {
	result := model.PublishResult{
		ID:         row.ID,
		Channel:    model.Channel(row.Channel),
		Success:    row.Success,
		ExternalID: row.ExternalID,
		URL:        row.URL,
		ErrorKind:  model.ErrorKind(row.ErrorKind),
		Error:      row.Error,
		Retryable:  row.Retryable,
		Timestamp:  row.Timestamp,
		DurationMS: row.DurationMS,
	}
	if row.Delivery.Valid {
		result.Delivery = &model.DeliverySummary{}
		if err := json.Unmarshal([]byte(row.Delivery.String), result.Delivery); err != nil {
			return result, fmt.Errorf("unmarshalling delivery summary: %w", err)
		}
	}
	return result, nil
}
