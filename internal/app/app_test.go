package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/guttosm/quoteflow/config"
	"github.com/guttosm/quoteflow/internal/broker/brokertest"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "8080", UploadMaxBytes: 1 << 20},
		Postgres: config.PostgresConfig{
			Host: "127.0.0.1", Port: 54329, User: "x", Password: "y", DBName: "z", SSLMode: "disable",
		},
		RabbitMQ: config.RabbitMQConfig{
			Host: "localhost", Port: 5672, Username: "guest", Password: "guest", VHost: "/",
			ConnectionAttempts: 1,
			RetryDelay:         time.Millisecond,
			PublisherConfirms:  true,
			Exchange:           "yahoo_finance",
			Queue:              "yahoo_finance",
			RoutingKey:         "yahoo_finance",
			DeadLetter:         true,
		},
		Consumer: config.ConsumerConfig{
			AckMode:        config.AckAfterPersist,
			Prefetch:       1,
			Tag:            "test-consumer",
			ReconnectDelay: time.Millisecond,
		},
	}
}

// withFakes swaps the Postgres opener and broker dialer for the duration of the test.
func withFakes(t *testing.T, db *sql.DB, srv *brokertest.Server) {
	t.Helper()
	oldPG, oldDial := postgresOpener, brokerDialer
	postgresOpener = func(*config.Config) (*sql.DB, error) { return db, nil }
	brokerDialer = srv.Dial
	t.Cleanup(func() {
		postgresOpener, brokerDialer = oldPG, oldDial
	})
}

// TestInitializeApp_DBFailure ensures InitializeApp returns error when DB cannot connect.
func TestInitializeApp_DBFailure(t *testing.T) {
	old := postgresOpener
	postgresOpener = func(*config.Config) (*sql.DB, error) { return nil, errors.New("connection refused") }
	t.Cleanup(func() { postgresOpener = old })

	r, cleanup, err := InitializeApp(testConfig())
	if err == nil || r != nil || cleanup != nil {
		t.Fatalf("expected error from InitializeApp with unreachable DB")
	}
}

func TestInitializeApp_HappyPath(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	mock.ExpectPing()
	srv := brokertest.NewServer()
	withFakes(t, db, srv)

	router, cleanup, err := InitializeApp(testConfig())
	if err != nil || router == nil || cleanup == nil {
		t.Fatalf("InitializeApp failed: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("readyz status=%d body=%s", w.Code, w.Body.String())
	}
	if srv.Dials() != 1 {
		t.Fatalf("readyz should dial the broker once, got %d", srv.Dials())
	}

	mock.ExpectClose()
	cleanup()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInitializeApp_ReadyzDegraded(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("down"))
	srv := brokertest.NewServer()
	srv.FailDials = 1
	withFakes(t, db, srv)

	router, _, err := InitializeApp(testConfig())
	if err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "postgres") || !strings.Contains(w.Body.String(), "rabbitmq") {
		t.Fatalf("both checks should be listed: %s", w.Body.String())
	}
}

func TestInitializeApp_UploadPublishes(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()
	srv := brokertest.NewServer()
	withFakes(t, db, srv)

	router, _, err := InitializeApp(testConfig())
	if err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "quotes.csv")
	_, _ = fw.Write([]byte("Symbol,Price\nAAPL,1\n"))
	_ = mw.WriteField("country", "usa")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/publish/finance-yahoo/csv", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body=%s", w.Code, w.Body.String())
	}
	pubs := srv.Published()
	if len(pubs) != 1 || pubs[0].Exchange != "yahoo_finance" || pubs[0].RoutingKey != "yahoo_finance" {
		t.Fatalf("unexpected publishes %+v", pubs)
	}
	if srv.Ready("yahoo_finance") != 1 {
		t.Fatalf("message should be queued")
	}
}

func TestInitConsumer_RunsUntilCanceled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	srv := brokertest.NewServer()
	withFakes(t, db, srv)

	c, cleanup, err := InitConsumer(testConfig())
	if err != nil || c == nil || cleanup == nil {
		t.Fatalf("InitConsumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Consumers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("consumer never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	mock.ExpectClose()
	cleanup()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInitConsumer_DBFailure(t *testing.T) {
	old := postgresOpener
	postgresOpener = func(*config.Config) (*sql.DB, error) { return nil, errors.New("connection refused") }
	t.Cleanup(func() { postgresOpener = old })

	c, cleanup, err := InitConsumer(testConfig())
	if err == nil || c != nil || cleanup != nil {
		t.Fatalf("expected error from InitConsumer with unreachable DB")
	}
}
