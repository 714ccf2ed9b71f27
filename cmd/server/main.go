package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli"

	"github.com/iliyamo/railway-reservation/internal/booking"
	"github.com/iliyamo/railway-reservation/internal/config"
	"github.com/iliyamo/railway-reservation/internal/database"
	"github.com/iliyamo/railway-reservation/internal/handler"
	"github.com/iliyamo/railway-reservation/internal/metrics"
	"github.com/iliyamo/railway-reservation/internal/middleware"
	"github.com/iliyamo/railway-reservation/internal/queue"
	"github.com/iliyamo/railway-reservation/internal/repository"
	"github.com/iliyamo/railway-reservation/internal/router"
	queue_publisher "github.com/iliyamo/railway-reservation/internal/service"
	"github.com/iliyamo/railway-reservation/internal/utils"
)

func main() {
	app := cli.NewApp()
	app.Name = "railway-reservation"
	app.Usage = "berth allocation service with RAC and waiting list"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "env-file, e",
			Usage: "dotenv file loaded before reading the environment",
			Value: ".env",
		},
	}
	app.Before = func(c *cli.Context) error {
		config.LoadDotEnv(c.String("env-file"))
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the HTTP API (migrates the schema first)",
			Action: serve,
		},
		{
			Name:   "migrate",
			Usage:  "create the database tables and exit",
			Action: migrate,
		},
		{
			Name:   "notify",
			Usage:  "consume ticket events and append them to tickets.log",
			Action: notify,
		},
		{
			Name:  "token",
			Usage: "mint an operator JWT signed with JWT_SECRET",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "subject", Value: "operator", Usage: "sub claim"},
				cli.StringFlag{Name: "role", Value: middleware.RoleOperator, Usage: "role claim"},
				cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime"},
			},
			Action: token,
		},
	}
	app.Action = serve

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("exit")
	}
}

func dbOptions(cfg config.Config) database.Options {
	return database.Options{
		Driver: cfg.DBDriver,
		User:   cfg.DBUser,
		Pass:   cfg.DBPass,
		Host:   cfg.DBHost,
		Port:   cfg.DBPort,
		Name:   cfg.DBName,
	}
}

func serve(c *cli.Context) error {
	cfg := config.Load()
	config.SetupLogging(cfg)

	db, err := database.Open(dbOptions(cfg))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := booking.NewService(repository.NewTicketRepo(db), cfg.Inventory, booking.WithMetrics(metrics.New(reg)))
	pub := queue_publisher.New(config.LoadBrokerConfig())
	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger())

	router.RegisterRoutes(e, db, reg)
	e.Validator = handler.NewRequestValidator()

	tickets := handler.NewTicketHandler(svc, pub)
	router.RegisterTickets(e, tickets, router.TicketDeps{
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
	})

	addr := ":" + cfg.Port
	logrus.WithFields(logrus.Fields{
		"addr":         addr,
		"env":          cfg.Env,
		"driver":       cfg.DBDriver,
		"total_berths": cfg.Inventory.TotalBerths,
		"rac":          cfg.Inventory.RACCapacity,
		"waiting_list": cfg.Inventory.WaitingListCapacity,
		"child_policy": cfg.Inventory.ChildPolicy,
	}).Info("listening")

	errc := make(chan error, 1)
	go func() { errc <- e.Start(addr) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = e.Shutdown(shutdownCtx)
	tickets.Wait()
	return err
}

func migrate(c *cli.Context) error {
	cfg := config.Load()
	config.SetupLogging(cfg)
	db, err := database.Open(dbOptions(cfg))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(context.Background(), db); err != nil {
		return err
	}
	logrus.WithField("driver", cfg.DBDriver).Info("schema up to date")
	return nil
}

func notify(c *cli.Context) error {
	config.SetupLogging(config.Config{Env: viper.GetString("APP_ENV"), LogLevel: viper.GetString("LOG_LEVEL")})
	bcfg := config.LoadBrokerConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logrus.WithFields(logrus.Fields{"queue": bcfg.Queue, "dir": bcfg.LogDir}).Info("consuming ticket events")
	return queue.StartTicketConsumer(ctx, bcfg)
}

func token(c *cli.Context) error {
	tok, err := utils.NewAccessToken(viper.GetString("JWT_SECRET"), c.String("subject"), c.String("role"), c.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("mint token (is JWT_SECRET set?): %w", err)
	}
	fmt.Println(tok.Token)
	return nil
}
