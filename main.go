package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathakanu/keepintouch/internal/config"
	"github.com/pathakanu/keepintouch/internal/mail"
	"github.com/pathakanu/keepintouch/internal/notify"
	"github.com/pathakanu/keepintouch/internal/reply"
	"github.com/pathakanu/keepintouch/internal/scheduler"
	"github.com/pathakanu/keepintouch/internal/store"
	"github.com/pathakanu/keepintouch/internal/twilio"
)

func main() {
	logger := log.New(os.Stdout, "[keepintouch] ", log.LstdFlags|log.Lshortfile)
	cfg := config.Load()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database init failed: %v", err)
	}
	st := store.New(db, logger)

	twilioClient := twilio.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioNumber)
	mailService := mail.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)

	identity := notify.Identity{Name: cfg.ServiceName, Email: cfg.ServiceEmail}
	dispatcher := notify.New(st, twilioClient, mailService, identity, cfg.LocalTimezone, time.Now, logger)

	sched := scheduler.New(cfg.LocalTimezone, logger)
	if err := sched.AddJob(cfg.ReminderSchedule, dispatcher.Run); err != nil {
		logger.Fatalf("scheduler job: %v", err)
	}
	sched.Start()

	replyHandler := reply.New(st, twilioClient, cfg.LocalTimezone, time.Now, logger)
	http.Handle("/sms", replyHandler.Handler())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: nil,
	}

	go func() {
		logger.Printf("server starting on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(server, sched, logger)
}

func waitForShutdown(server *http.Server, sched *scheduler.Scheduler, logger *log.Logger) {
	stopCtx := make(chan os.Signal, 1)
	signal.Notify(stopCtx, syscall.SIGINT, syscall.SIGTERM)
	<-stopCtx
	logger.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	sched.Stop()
}
