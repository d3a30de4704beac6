// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cosypolyamory/site/internal/attendance"
	"github.com/cosypolyamory/site/internal/auth"
	"github.com/cosypolyamory/site/internal/db/jsondb"
	"github.com/cosypolyamory/site/internal/db/kvdb"
	"github.com/cosypolyamory/site/internal/live"
	"github.com/cosypolyamory/site/internal/notify"
	"github.com/cosypolyamory/site/internal/reminder"
	"github.com/cosypolyamory/site/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "unable to load .env:", err)
		os.Exit(1)
	}

	var (
		serviceName = flag.String("service-name", "cosy-site", "otel service name")
		addr        = flag.String("addr", "0.0.0.0:8080", "default server address")
		dbStr       = flag.String("db", "kvdb://testdata/cosy.db", "database connection string")
		otlpAddr    = flag.String("otlp-grpc", "", "default otlp/gRPC address, by default disabled. Example value: localhost:4317")
		logLevelArg = flag.String("log-level", "INFO", "log level")
		staticDir   = flag.String("static-dir", "", "path to static directory")
		deadline    = flag.String("read-only-after", "", "close all write routes after this date, format: 01 May 24 10:00 CET")
		seed        = flag.String("seed", "", "JSON fixture file to load into the database on start; 'demo' loads the demo data")
		corsOrigins = flag.String("cors-origins", "", "comma separated list of allowed CORS origins")
		baseURL     = flag.String("base-url", "http://localhost:8080", "public URL used in e-mails")
		fromEmail   = flag.String("from-email", "noreply@cosypolyamory.org", "sender address of e-mails")
		rateLimit   = flag.Int("rate-limit", 30, "writes per client and minute, 0 disables the limit")
		tokenTTL    = flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of session tokens")
		reminders   = flag.Bool("reminders", true, "e-mail attendees on the day of their events")
	)
	flag.Parse()

	var logLevel slog.Level
	err := logLevel.UnmarshalText([]byte(*logLevelArg))
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(jsonHandler)
	if err != nil {
		logger.Error("unable to parse log level", "level-input", *logLevelArg, "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logger)
	logger.Info("start and listen", "address", *addr)
	logger.Info("otlp/gRPC", "address", *otlpAddr, "service", *serviceName)
	logger.Info("static-dir", "directory", *staticDir)

	if *otlpAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		grpcOptions := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock()}
		conn, err := grpc.DialContext(ctx, *otlpAddr, grpcOptions...)
		if err != nil {
			logger.Error("failed to create gRPC connection to collector", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		otelExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			logger.Error("failed to create trace exporter", "error", err)
			os.Exit(1)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(otelExporter))
		otel.SetTracerProvider(tp)
	}

	var readOnlyAfter time.Time
	if *deadline != "" {
		readOnlyAfter, err = time.Parse(time.RFC822, *deadline)
		if err != nil {
			logger.Error("failed to parse read-only date", "error", err)
			os.Exit(1)
		}
		logger.Info("read-only after", "date", *deadline)
	}

	secret := os.Getenv("COSY_JWT_SECRET")
	issuer, err := auth.NewIssuer(secret, *serviceName, *tokenTTL)
	if err != nil {
		logger.Error("invalid COSY_JWT_SECRET", "error", err)
		os.Exit(1)
	}

	u, err := url.Parse(*dbStr)
	if err != nil {
		logger.Error("unable to parse db connection string", "error", err)
		os.Exit(1)
	}

	var (
		stores server.Stores
		meta   *kvdb.MetaStore
	)
	switch u.Scheme {
	case "kvdb":
		path := u.Host + u.Path
		db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			logger.Error("could not open database", "path", path, "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if stores.Users, err = kvdb.NewUserStore(db); err != nil {
			logger.Error("could not initialize user bucket", "error", err)
			os.Exit(1)
		}
		if stores.Events, err = kvdb.NewEventStore(db); err != nil {
			logger.Error("could not initialize event bucket", "error", err)
			os.Exit(1)
		}
		if stores.RSVPs, err = kvdb.NewRSVPStore(db); err != nil {
			logger.Error("could not initialize rsvp bucket", "error", err)
			os.Exit(1)
		}
		if stores.Applications, err = kvdb.NewApplicationStore(db); err != nil {
			logger.Error("could not initialize application bucket", "error", err)
			os.Exit(1)
		}
		if stores.NoShows, err = kvdb.NewNoShowStore(db); err != nil {
			logger.Error("could not initialize no-show bucket", "error", err)
			os.Exit(1)
		}
		if stores.EventNotes, err = kvdb.NewEventNoteStore(db); err != nil {
			logger.Error("could not initialize event note bucket", "error", err)
			os.Exit(1)
		}
		if meta, err = kvdb.NewMetaStore(db); err != nil {
			logger.Error("could not initialize meta bucket", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("Unknown storage backend", "type", u.Scheme)
		os.Exit(1)
	}

	if *seed != "" {
		file := *seed
		if file == "demo" {
			file = ""
		}
		fixtures, err := jsondb.NewFixtures(file)
		if err != nil {
			logger.Error("could not read fixtures", "file", *seed, "error", err)
			os.Exit(1)
		}
		if err := fixtures.Apply(context.Background(), stores.Users, stores.Events, stores.RSVPs); err != nil {
			logger.Error("could not apply fixtures", "error", err)
			os.Exit(1)
		}
	}

	var sender notify.Sender = notify.NewLogSender(logger.WithGroup("mail"))
	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		sender = notify.NewSendgridSender(key, "Cosy Polyamory", *fromEmail)
	} else {
		logger.Warn("SENDGRID_API_KEY not set, e-mails are only logged")
	}
	mailer := notify.NewMailer(sender, *baseURL)

	hub := live.NewHub()
	defer hub.Close()

	svc := attendance.NewService(stores.Events, stores.Users, stores.RSVPs,
		attendance.WithNotifier(mailer),
		attendance.WithPublisher(hub),
	)

	if *reminders {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		runner := reminder.New(stores.Events, stores.Users, stores.RSVPs, meta, mailer)
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reminders stopped", "error", err)
			}
		}()
	}

	adminPassword := os.Getenv("COSY_PASSWORD")
	if adminPassword == "" {
		logger.Warn("COSY_PASSWORD not set, the admin area is disabled")
	}

	cfg := server.Config{
		ServiceName:   *serviceName,
		StaticDir:     *staticDir,
		ReadOnlyAfter: readOnlyAfter,
		AdminUser:     envOr("COSY_ADMIN", "admin"),
		AdminPassword: adminPassword,
		CORSOrigins:   splitList(*corsOrigins),
		RateLimit:     *rateLimit,
		RateWindow:    time.Minute,
		Questions:     applicationQuestions(),
	}
	handler, err := server.NewServer(cfg, stores, issuer, hub, svc, mailer)
	if err != nil {
		logger.Error("could not set up server", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil {
		logger.Error("error during listen and serve", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown")
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applicationQuestions reads APPLICATION_QUESTION_1 to _7.
func applicationQuestions() []string {
	var questions []string
	for i := 1; i <= 7; i++ {
		if q := strings.TrimSpace(os.Getenv("APPLICATION_QUESTION_" + strconv.Itoa(i))); q != "" {
			questions = append(questions, q)
		}
	}
	return questions
}
