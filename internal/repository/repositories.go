package repository

import (
	"database/sql"
	"log/slog"
)

// Repositories bundles every store behind a single handle so services and
// the wiring in main only need to thread one value through.
type Repositories struct {
	Pages            PageRepository
	Snapshots        SnapshotRepository
	Speed            SpeedRepository
	LinkHealth       LinkHealthRepository
	Findings         FindingRepository
	DecisionQueue    DecisionQueueRepository
	ChangeLog        ChangeLogRepository
	Guardrails       GuardrailRepository
	Trends           TrendRepository
	Signals          SignalRepository
	Notifications    NotificationRepository
	ConversionAudits ConversionAuditRepository
	WeeklyDigests    WeeklyDigestRepository
	Credentials      CredentialRepository
	Config           ConfigRepository
}

// NewRepositories wires the concrete libsql-backed store for every
// interface. logger is used only by stores whose writes are best-effort
// (the signal bus).
func NewRepositories(db *sql.DB, logger *slog.Logger) *Repositories {
	return &Repositories{
		Pages:            NewSQLitePageRepository(db),
		Snapshots:        NewSQLiteSnapshotRepository(db),
		Speed:            NewSQLiteSpeedRepository(db),
		LinkHealth:       NewSQLiteLinkHealthRepository(db),
		Findings:         NewSQLiteFindingRepository(db),
		DecisionQueue:    NewSQLiteDecisionQueueRepository(db),
		ChangeLog:        NewSQLiteChangeLogRepository(db),
		Guardrails:       NewSQLiteGuardrailRepository(db),
		Trends:           NewSQLiteTrendRepository(db),
		Signals:          NewSQLiteSignalRepository(db, logger),
		Notifications:    NewSQLiteNotificationRepository(db),
		ConversionAudits: NewSQLiteConversionAuditRepository(db),
		WeeklyDigests:    NewSQLiteWeeklyDigestRepository(db),
		Credentials:      NewSQLiteCredentialRepository(db),
		Config:           NewSQLiteConfigRepository(db),
	}
}
