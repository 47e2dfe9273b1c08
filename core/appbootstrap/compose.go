package appbootstrap

import (
	"context"

	"shiftrelay/api"
	"shiftrelay/config"
	"shiftrelay/core/handover"
	"shiftrelay/core/store"
	"shiftrelay/core/utils"
)

// Runtime holds the fully wired application: server plus the background
// scheduler that drives reminders and escalations.
type Runtime struct {
	Server    *api.Server
	Scheduler *handover.Scheduler
	DB        *store.DB
}

func Compose(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*Runtime, error) {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	incidents := store.NewIncidentsStore(db)
	audits := store.NewHandoverAuditStore(db)
	notifications := store.NewNotificationsStore(db)
	team := store.NewTeamStore(db)

	sender := handover.NewSMTPSender(cfg.Mail)
	dispatcher := handover.NewDispatcher(notifications, team, sender, cfg.Notifications, cfg.BaseURL, logger)
	engine := handover.NewEngine(incidents, audits, team, dispatcher, cfg.Notifications, logger)
	reporter := handover.NewReporter(audits, incidents, logger)
	scheduler := handover.NewScheduler(cfg.Scheduler, cfg.Notifications, incidents, audits, dispatcher, logger)

	server := api.NewServer(cfg, api.ServerDeps{
		Engine:    engine,
		Reporter:  reporter,
		Incidents: incidents,
		DB:        db,
	}, logger)

	return &Runtime{Server: server, Scheduler: scheduler, DB: db}, nil
}
