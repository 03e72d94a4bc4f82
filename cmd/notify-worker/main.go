// Entry point for the downstream notify worker: consumes reconciled
// check-out events from SQS and emails notices via SES.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"attendance.sync/internal/config"
	"attendance.sync/internal/reconciler"
	"attendance.sync/internal/worker"
	"attendance.sync/internal/worker/notify"
	"attendance.sync/pkg/aws"
	"attendance.sync/pkg/database"
	"attendance.sync/pkg/logger"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	logger.Setup("attendance-notify-worker", cfg.IsLocalDev)

	// DB connection
	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer db.Close()
	log.Info().Msg("Successfully connected to the database.")

	// AWS SDK Config
	awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	// Initialize dependencies
	sqsClient := sqs.NewFromConfig(awsCfg)
	sesClient := ses.NewFromConfig(awsCfg)
	repo := reconciler.NewAttendanceRepository(db)
	emailService := notify.NewSESEmailService(sesClient, cfg.EmailSender)
	processor := notify.NewProcessor(emailService, repo)

	// Start consumer
	ctx, cancel := context.WithCancel(context.Background())
	consumer := worker.NewConsumer(sqsClient, cfg.NotifySQSQueueURL, processor)

	go func() {
		consumer.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down worker...")

	// Cancel the context to signal the consumer to stop polling.
	cancel()

	log.Info().Msg("Worker exited gracefully")
}
