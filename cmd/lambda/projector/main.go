package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/example/credit-ledger/internal/app"
	"github.com/example/credit-ledger/internal/config"
	"github.com/example/credit-ledger/internal/infrastructure/kinesis"
	"github.com/example/credit-ledger/internal/projection"
)

// Projects events from the DynamoDB event table's stream, delivered
// through Kinesis, into the Postgres read store.
func main() {
	logger, err := app.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg := &config.Config{DatabaseURL: os.Getenv("DATABASE_URL")}
	readStore, _, err := app.OpenReadStore(context.Background(), cfg)
	if err != nil {
		logger.Fatal("failed to open read store", zap.Error(err))
	}

	projector := projection.NewProjector(readStore, logger)
	lambda.Start(kinesis.BatchHandler(projector.Handle, logger))
}
