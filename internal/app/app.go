package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/dbpg/pgx-driver/transaction"
	"github.com/wb-go/wbf/logger"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
	"golang.org/x/sync/errgroup"

	"prayerflow/internal/config"
	"prayerflow/internal/entity"
	"prayerflow/internal/repository"
	"prayerflow/internal/service"
	"prayerflow/internal/transport/amqp"
	httpt "prayerflow/internal/transport/http"
	"prayerflow/internal/transport/sender"
	"prayerflow/pkg/metric"
	"prayerflow/pkg/ratelimit"
)

const (
	_rateLimitPrefix = "prayerflow:ratelimit:public:"
	_eventsMimeType  = "application/json"
	_retryBackoff    = 2
)

type components struct {
	db      *pgxdriver.Postgres
	rdb     *redis.Client
	rmq     *rabbitmq.RabbitClient
	metrics *metric.Metrics
	reg     *prometheus.Registry

	catalog       *service.CategoryCatalog
	intake        *service.IntakeService
	approvals     *service.ApprovalService
	automation    *service.AutomationService
	delivery      *service.DeliveryService
	notifications *service.NotificationService
}

func (c *components) close(log logger.Logger) {
	if c.rmq != nil {
		if err := c.rmq.Close(); err != nil {
			log.Warn("rabbit close failed", "error", err)
		}
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
	if c.db != nil {
		c.db.Close()
	}
}

// Run serves the HTTP API, the metrics listener and, when enabled, the
// delivery dispatcher until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.close(log)

	eg, ctx := errgroup.WithContext(ctx)

	if err = initHTTPServer(ctx, eg, cfg, c, log); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		initMetricsServer(ctx, eg, &cfg.Metrics, c.reg, log)
	}
	if cfg.Dispatcher.Enabled {
		d := NewDispatcher(c.delivery, cfg.Dispatcher.Interval, log.With("component", "dispatcher"))
		eg.Go(func() error {
			return d.Run(ctx)
		})
	}

	return waitForShutdown(eg)
}

// Dispatch runs the delivery loop without the HTTP API; with once it
// processes a single batch and returns.
func Dispatch(ctx context.Context, cfg *config.Config, log logger.Logger, once bool) error {
	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.close(log)

	d := NewDispatcher(c.delivery, cfg.Dispatcher.Interval, log.With("component", "dispatcher"))
	if once {
		_, err = d.Tick(ctx)
		return err
	}
	return d.Run(ctx)
}

func build(ctx context.Context, cfg *config.Config, log logger.Logger) (*components, error) {
	c := &components{}
	ok := false
	defer func() {
		if !ok {
			c.close(log)
		}
	}()

	var err error
	if c.db, err = initDatabase(&cfg.Database, log); err != nil {
		return nil, err
	}
	tm, err := transaction.NewManager(c.db, log.With("component", "transaction"))
	if err != nil {
		return nil, fmt.Errorf("app.build: %w", err)
	}
	if c.rdb, err = initCache(ctx, &cfg.Redis); err != nil {
		return nil, err
	}

	c.reg = prometheus.NewRegistry()
	c.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.metrics = metric.New(c.reg)

	var events service.EventPublisher
	if cfg.Rabbit.Enabled {
		var pub *rabbitmq.Publisher
		if c.rmq, pub, err = initPublisher(&cfg.Rabbit); err != nil {
			return nil, err
		}
		events = amqp.NewEventPublisher(pub)
	}

	router, err := initSenders(cfg, log.With("component", "sender"))
	if err != nil {
		return nil, err
	}

	repos := initRepositories(c.db)
	opts := []service.Option{
		service.WithLogger(log.With("component", "service")),
		service.WithEvents(events),
		service.WithMetrics(c.metrics),
		service.WithBatchSize(uint64(cfg.Service.BatchSize)), //nolint:gosec // validated positive
		service.WithEventTimeout(cfg.Rabbit.PublishTimeout),
		service.WithMaxRetries(cfg.Service.MaxRetries),
		service.WithBaseRetryDelay(cfg.Service.BaseRetryDelay),
		service.WithApprovalDelay(cfg.Service.MinApprovalDelay, cfg.Service.MaxApprovalDelay),
		service.WithDefaultTemplate(cfg.Service.DefaultTemplate),
	}

	if err = initServices(c, repos, tm, router, cfg, opts); err != nil {
		return nil, err
	}

	ok = true
	return c, nil
}

func initDatabase(cfg *config.Database, log logger.Logger) (*pgxdriver.Postgres, error) {
	db, err := pgxdriver.New(
		cfg.DSN,
		log.With("component", "database"),
		pgxdriver.MaxPoolSize(cfg.PoolMax),
		pgxdriver.MaxConnAttempts(cfg.ConnAttempts),
		pgxdriver.BaseRetryDelay(cfg.BaseRetryDelay),
		pgxdriver.MaxRetryDelay(cfg.MaxRetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initDatabase: %w", err)
	}
	return db, nil
}

// initCache builds the wbf client around a tuned go-redis pool; redis.New
// only takes an address.
func initCache(ctx context.Context, cfg *config.Redis) (*redis.Client, error) {
	rdb := &redis.Client{Client: goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleCons,
		PoolTimeout:  cfg.PoolTimeout,
	})}
	if err := rdb.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("app.initCache: ping: %w", err)
	}
	return rdb, nil
}

func initPublisher(cfg *config.Rabbit) (*rabbitmq.RabbitClient, *rabbitmq.Publisher, error) {
	strategy := retry.Strategy{
		Attempts: cfg.Attempts,
		Delay:    cfg.RetryDelay,
		Backoff:  _retryBackoff,
	}
	client, err := rabbitmq.NewClient(rabbitmq.ClientConfig{
		URL:            cfg.URL,
		ConnectionName: cfg.ConnectionName,
		ConnectTimeout: cfg.ConnectTimeout,
		Heartbeat:      cfg.Heartbeat,
		ReconnectStrat: strategy,
		ProducingStrat: strategy,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("app.initPublisher: init new RabbitMQ client: %w", err)
	}
	if err = client.DeclareExchange(cfg.Exchange, "topic", true, false, false, nil); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("app.initPublisher: declare exchange %s: %w", cfg.Exchange, err)
	}
	return client, rabbitmq.NewPublisher(client, cfg.Exchange, _eventsMimeType), nil
}

// initSenders registers one provider per channel. Resend takes email over
// SMTP and wuzapi takes WhatsApp over Twilio when both are configured.
func initSenders(cfg *config.Config, log logger.Logger) (*sender.Router, error) {
	const op = "app.initSenders"

	router := sender.NewRouter()

	switch {
	case cfg.Resend.APIKey != "":
		s, err := sender.NewResendSender(cfg.Resend.APIKey, cfg.Resend.From, log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		router.Register(entity.ChannelEmail, s)
	case cfg.SMTP.Host != "":
		s, err := sender.NewEmailSender(sender.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		router.Register(entity.ChannelEmail, s)
	}

	if cfg.Twilio.AccountSID != "" {
		s, err := sender.NewTwilioSender(sender.TwilioConfig{
			AccountSID:   cfg.Twilio.AccountSID,
			AuthToken:    cfg.Twilio.AuthToken,
			FromNumber:   cfg.Twilio.FromNumber,
			WhatsAppFrom: cfg.Twilio.WhatsAppFrom,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		router.Register(entity.ChannelSMS, s)
		if cfg.Twilio.WhatsAppFrom != "" {
			router.Register(entity.ChannelWhatsApp, s)
		}
	}

	if cfg.Wuzapi.BaseURL != "" {
		s, err := sender.NewWuzapiSender(cfg.Wuzapi.BaseURL, cfg.Wuzapi.Token, cfg.Wuzapi.Timeout, log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		router.Register(entity.ChannelWhatsApp, s)
	}

	if len(router.Channels()) == 0 {
		log.Warn("no message providers configured, every delivery will fail")
	}
	return router, nil
}

func initRepositories(db *pgxdriver.Postgres) service.Repositories {
	return service.Repositories{
		Tenants:       repository.NewTenantRepository(db),
		Users:         repository.NewUserRepository(db),
		Categories:    repository.NewCategoryRepository(db),
		Contacts:      repository.NewContactRepository(db),
		Prayers:       repository.NewPrayerRepository(db),
		Approvals:     repository.NewApprovalRepository(db),
		Messages:      repository.NewMessageRepository(db),
		Rules:         repository.NewRuleRepository(db),
		Notifications: repository.NewNotificationRepository(db),
	}
}

func initServices(
	c *components,
	repos service.Repositories,
	tm transaction.Manager,
	router *sender.Router,
	cfg *config.Config,
	opts []service.Option,
) error {
	const op = "app.initServices"

	var err error
	categoryCache := repository.NewCategoryCache(c.rdb, cfg.Redis.CacheTTL)
	if c.catalog, err = service.NewCategoryCatalog(repos.Tenants, repos.Categories, categoryCache, opts...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	contacts, err := service.NewContactRegistry(repos.Contacts, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.automation, err = service.NewAutomationService(repos, tm, opts...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.intake, err = service.NewIntakeService(repos, tm, c.catalog, contacts, c.automation, opts...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.approvals, err = service.NewApprovalService(repos, tm, opts...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	guard := repository.NewSendGuard(c.rdb, cfg.Redis.GuardTTL)
	if c.delivery, err = service.NewDeliveryService(repos, tm, router, guard, opts...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.notifications, err = service.NewNotificationService(repos, tm, opts...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func initHTTPServer(
	ctx context.Context,
	eg *errgroup.Group,
	cfg *config.Config,
	c *components,
	log logger.Logger,
) error {
	verifier, err := httpt.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	if err != nil {
		return fmt.Errorf("app.initHTTPServer: %w", err)
	}

	opts := []httpt.HandlerOption{
		httpt.WithMetrics(c.metrics),
		httpt.WithCORSOrigins(cfg.HTTP.CORSOrigins),
	}
	if cfg.RateLimit.Enabled {
		limiter, lErr := ratelimit.New(ratelimit.NewRedisStore(c.rdb), _rateLimitPrefix, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if lErr != nil {
			return fmt.Errorf("app.initHTTPServer: %w", lErr)
		}
		opts = append(opts, httpt.WithRateLimiter(limiter))
	}

	handler := httpt.NewHandler(httpt.Services{
		Catalog:       c.catalog,
		Intake:        c.intake,
		Approvals:     c.approvals,
		Automation:    c.automation,
		Delivery:      c.delivery,
		Notifications: c.notifications,
	}, verifier, log.With("component", "http"), opts...)

	httpServer, err := httpt.NewHTTPServer(handler.Engine(), &cfg.HTTP, log.With("component", "http server"))
	if err != nil {
		return fmt.Errorf("app.initHTTPServer: %w", err)
	}

	eg.Go(func() error {
		return httpServer.Start(ctx)
	})
	return nil
}

func initMetricsServer(
	ctx context.Context,
	eg *errgroup.Group,
	cfg *config.Metrics,
	reg *prometheus.Registry,
	log logger.Logger,
) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	eg.Go(func() error {
		log.LogAttrs(ctx, logger.InfoLevel, "metrics server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app.initMetricsServer: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.WithoutCancel(ctx))
	})
}

func waitForShutdown(eg *errgroup.Group) error {
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app.waitForShutdown: application failed: %w", err)
	}
	return nil
}
