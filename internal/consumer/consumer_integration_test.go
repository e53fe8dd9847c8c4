//go:build integration
// +build integration

package consumer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/guttosm/quoteflow/config"
	"github.com/guttosm/quoteflow/db"
	"github.com/guttosm/quoteflow/internal/broker"
	"github.com/guttosm/quoteflow/internal/ingestion"
	"github.com/guttosm/quoteflow/internal/producer"
	"github.com/guttosm/quoteflow/internal/storage"
)

func startContainer(t *testing.T, req tc.ContainerRequest, port nat.Port) (string, nat.Port, func()) {
	t.Helper()
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("container start %s: %v", req.Image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return host, mapped, func() { _ = container.Terminate(context.Background()) }
}

func TestIntegration_UploadToDatabase(t *testing.T) {
	pgHost, pgPort, stopPG := startContainer(t, tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "fastapi_rabbitmq",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "postgres", func(host string, port nat.Port) string {
			return fmt.Sprintf("host=%s port=%s user=postgres password=postgres dbname=fastapi_rabbitmq sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	defer stopPG()

	mqHost, mqPort, stopMQ := startContainer(t, tc.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}, "5672/tcp")
	defer stopMQ()

	sqlDB, err := sql.Open("postgres", fmt.Sprintf("postgres://postgres:postgres@%s:%s/fastapi_rabbitmq?sslmode=disable", pgHost, pgPort.Port()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Migrate(sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rmq := rabbitConfig()
	rmq.Host, rmq.Port = mqHost, mqPort.Int()
	rmq.Username, rmq.Password, rmq.VHost = "guest", "guest", "/"
	rmq.ConnectionAttempts = 5
	rmq.RetryDelay = time.Second
	rmq.PublisherConfirms = true
	rmq.URL = rmq.AMQPURL()

	m := broker.NewManager(rmq)
	prod := producer.NewProducer(m, rmq.Exchange, 1<<20)
	repo := storage.NewQuotesRepository(sqlDB)
	c := NewConsumer(m, ingestion.NewProcessor(repo), consumerConfig(config.AckAfterPersist))

	ctx := context.Background()
	csv := "Symbol,Name,Price\nAAPL,Apple,\"1,234.56\"\nMSFT,Microsoft,300\n,Ghost,1\n"
	for i := 0; i < 2; i++ {
		// Identical uploads are separate messages; both are stored.
		if _, err := prod.PublishCSV(ctx, "quotes.csv", strings.NewReader(csv), "usa"); err != nil {
			t.Fatalf("publish #%d: %v", i+1, err)
		}
	}

	stop := startConsumer(c)
	defer func() { _ = stop() }()

	waitForCount := func(want int) {
		deadline := time.Now().Add(20 * time.Second)
		for time.Now().Before(deadline) {
			var n int
			if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM quote_batches`).Scan(&n); err == nil && n == want {
				return
			}
			time.Sleep(200 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d batches", want)
	}
	waitForCount(2)

	var rows int
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM yahoo_finance`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 4 {
		t.Fatalf("want 2 rows per upload, got %d", rows)
	}

	q, err := repo.LatestQuote(ctx, "AAPL")
	if err != nil || q == nil {
		t.Fatalf("latest quote: %v %v", q, err)
	}
	if q.Country != "Usa" || q.Price.Decimal.String() != "1234.56" {
		t.Fatalf("unexpected stored quote %+v", q)
	}
}
