package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go/micro"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ginzap "github.com/gin-contrib/zap"

	"github.com/flarexio/tagger"
	"github.com/flarexio/tagger/conf"
	"github.com/flarexio/tagger/folder"
	"github.com/flarexio/tagger/persistence"
	"github.com/flarexio/tagger/pubsub"
	"github.com/flarexio/tagger/queue"
	"github.com/flarexio/tagger/session"
	"github.com/flarexio/tagger/tagging"
	"github.com/flarexio/tagger/tagging/musicbrainz"
	"github.com/flarexio/tagger/watcher"

	transHTTP "github.com/flarexio/tagger/transport/http"
	transPubSub "github.com/flarexio/tagger/transport/pubsub"
	transQueue "github.com/flarexio/tagger/transport/queue"
)

var (
	Version   string = "0.0.0"
	BuildTime string
	GitCommit string
)

var versionCmd = &cli.Command{
	Name:    "version",
	Aliases: []string{"ver", "v"},
	Usage:   "Show version",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "all",
			Aliases: []string{"a"},
			Usage:   "Show all infomation (include: Version, BuildTime, GitCommit)",
			Value:   false,
		},
	},
	Action: func(ctx *cli.Context) error {
		if !ctx.Bool("all") {
			fmt.Fprintln(ctx.App.Writer, ctx.App.Version)
		} else {
			cli.ShowVersion(ctx)
		}
		return nil
	},
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve the web interface, the API and the workers",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "workers",
			Usage:   "Consume jobs in this process",
			Value:   true,
			EnvVars: []string{"TAGGER_WORKERS"},
		},
		&cli.BoolFlag{
			Name:    "watch",
			Usage:   "Watch inboxes and autotag settled folders",
			Value:   true,
			EnvVars: []string{"TAGGER_WATCH"},
		},
	},
	Action: serve,
}

var workerCmd = &cli.Command{
	Name:   "worker",
	Usage:  "Consume jobs from a shared queue",
	Action: work,
}

var hashCmd = &cli.Command{
	Name:      "hash",
	Usage:     "Print the hash of a folder",
	ArgsUsage: "<dir>",
	Action: func(ctx *cli.Context) error {
		dir := ctx.Args().First()
		if dir == "" {
			return errors.New("folder required")
		}

		hash, err := folder.Hash(dir)
		if err != nil {
			return err
		}

		fmt.Fprintln(ctx.App.Writer, hash)
		return nil
	},
}

var enqueueCmd = &cli.Command{
	Name:      "enqueue",
	Usage:     "Queue folders on a running instance over NATS",
	ArgsUsage: "<dir>...",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "kind",
			Usage: "Job kind (preview, import, auto_import)",
			Value: "preview",
		},
		&cli.StringFlag{
			Name:    "nats",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://127.0.0.1:4222",
		},
		&cli.StringFlag{
			Name:  "instance",
			Usage: "Service group of the instance",
			Value: "tagger",
		},
	},
	Action: enqueue,
}

func newApp() *cli.App {
	cli.VersionPrinter = func(cli *cli.Context) {
		fmt.Fprintln(cli.App.Writer, "Version: "+cli.App.Version)
		fmt.Fprintln(cli.App.Writer, "BuildTime: "+BuildTime)
		fmt.Fprintln(cli.App.Writer, "GitCommit: "+GitCommit)
	}

	return &cli.App{
		Name:     "tagger",
		Usage:    "Tag music folders and import them into a library",
		Version:  Version,
		Commands: []*cli.Command{serveCmd, workerCmd, hashCmd, enqueueCmd, versionCmd},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Usage:   "Specifies the working directory",
				EnvVars: []string{"TAGGER_PATH"},
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Specifies the HTTP service port",
				Value:   5001,
				EnvVars: []string{"TAGGER_HTTP_PORT"},
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "Write production JSON logs",
				EnvVars: []string{"TAGGER_LOG_JSON"},
			},
		},
		Action: serve,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(cli *cli.Context) (*zap.Logger, error) {
	if cli.Bool("log-json") {
		return zap.NewProduction()
	}

	return zap.NewDevelopment()
}

type components struct {
	cfg      *conf.Config
	log      *zap.Logger
	repos    *persistence.Repositories
	bus      pubsub.Bus
	jobs     queue.Queue
	svc      tagger.Service
	registry *prometheus.Registry
}

// build wires the service with its persistence, queue and bus.
func build(cfg *conf.Config, log *zap.Logger) (*components, error) {
	repos, err := persistence.NewRepositories(cfg.Persistence)
	if err != nil {
		log.Error(err.Error(),
			zap.String("infra", "persistence"),
			zap.String("driver", cfg.Persistence.Driver.String()),
		)
		return nil, err
	}

	bus, err := pubsub.NewBus(cfg.EventBus)
	if err != nil {
		log.Error(err.Error(),
			zap.String("infra", "pubsub"),
			zap.String("provider", cfg.EventBus.Provider.String()),
		)
		repos.Close()
		return nil, err
	}

	jobs, err := queue.NewQueue(cfg.Queue)
	if err != nil {
		log.Error(err.Error(),
			zap.String("infra", "queue"),
			zap.String("driver", cfg.Queue.Driver.String()),
		)
		bus.Close()
		repos.Close()
		return nil, err
	}

	sources := make([]tagging.MetadataSource, 0)
	if cfg.MusicBrainz.Enabled {
		sources = append(sources, musicbrainz.NewClient(cfg.MusicBrainz))
	}

	t := tagging.NewTagger(tagging.NewTaglib(), cfg.Match, cfg.Library, sources...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := tagger.NewService(cfg, repos.Sessions, repos.Library, t, jobs, bus)
	svc = tagger.InstrumentingMiddleware(registry)(svc)
	svc = tagger.LoggingMiddleware(log)(svc)

	return &components{
		cfg:      cfg,
		log:      log,
		repos:    repos,
		bus:      bus,
		jobs:     jobs,
		svc:      svc,
		registry: registry,
	}, nil
}

func (c *components) Close() {
	if err := c.jobs.Close(); err != nil {
		c.log.Warn(err.Error(), zap.String("infra", "queue"))
	}

	if err := c.bus.Close(); err != nil {
		c.log.Warn(err.Error(), zap.String("infra", "pubsub"))
	}

	if err := c.repos.Close(); err != nil {
		c.log.Warn(err.Error(), zap.String("infra", "persistence"))
	}
}

func setup(cli *cli.Context) (*components, error) {
	err := conf.LoadEnv(cli)
	if err != nil {
		return nil, err
	}

	cfg, err := conf.LoadConfig()
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cli)
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(log)

	return build(cfg, log)
}

func serve(cli *cli.Context) error {
	c, err := setup(cli)
	if err != nil {
		return err
	}
	defer c.log.Sync()
	defer c.Close()

	cfg := c.cfg
	log := c.log
	svc := c.svc

	workers := !cli.IsSet("workers") || cli.Bool("workers")
	watch := !cli.IsSet("watch") || cli.Bool("watch")

	if cfg.Queue.Driver == conf.InMemQueue && !workers {
		return errors.New("inmem queue requires in-process workers")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Add Workers
	if workers {
		if cfg.Queue.Driver == conf.InMemQueue {
			if _, err := svc.Recover(ctx); err != nil {
				return err
			}
		}

		handler := transQueue.JobHandler(tagger.JobEndpoint(svc))
		g.Go(func() error {
			return c.jobs.Consume(ctx, handler)
		})
	}

	// Add Watcher
	if watch {
		w, err := watcher.New(cfg.Inboxes, func(ctx context.Context, inbox conf.Inbox, path string) {
			if _, err := svc.AutoTag(ctx, inbox, path); err != nil && !errors.Is(err, session.ErrSessionBusy) {
				log.Warn("autotag skipped", zap.String("folder", path), zap.Error(err))
			}
		})
		if err != nil {
			log.Error(err.Error(), zap.String("infra", "watcher"))
			return err
		}

		if len(w.Inboxes()) > 0 {
			g.Go(func() error {
				return w.Run(ctx)
			})
		} else {
			w.Close()
			log.Info("no inbox to watch", zap.String("infra", "watcher"))
		}
	}

	endpoints := tagger.NewEndpointSet(svc)

	// Add PubSub Transport
	if natsBus, ok := c.bus.(*pubsub.NATSBus); ok {
		srv, err := micro.AddService(natsBus.Conn(), micro.Config{
			Name:        "tagger",
			Version:     Version,
			Description: "Tag music folders and import them into a library",
			Metadata: map[string]string{
				"id": cfg.Name,
			},
		})

		if err != nil {
			return err
		}
		defer srv.Stop()

		root := srv.AddGroup("tagger")

		// SUB tagger.enqueue
		if err := root.AddEndpoint("enqueue", transPubSub.EnqueueHandler(endpoints.Enqueue)); err != nil {
			return err
		}

		// SUB tagger.stats
		if err := root.AddEndpoint("stats", transPubSub.StatsHandler(endpoints.Stats)); err != nil {
			return err
		}
	}

	// Add HTTP Transport
	r := newRouter(c, endpoints)

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(conf.Port),
		Handler: r,
	}

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", server.Addr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		log.Info("shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(c *components, endpoints tagger.EndpointSet) *gin.Engine {
	r := gin.New()
	r.Use(
		ginzap.Ginzap(c.log, time.RFC3339, true),
		ginzap.RecoveryWithZap(c.log, true),
	)

	// GET /healthz
	r.GET("/healthz", transHTTP.HealthHandler)

	// GET /metrics
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	transHTTP.AddRouters(api, endpoints, c.bus)

	dir := c.cfg.Frontend.Dir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(conf.Path, dir)
	}

	r.NoRoute(transHTTP.FrontendHandler(dir))

	return r
}

func work(cli *cli.Context) error {
	c, err := setup(cli)
	if err != nil {
		return err
	}
	defer c.log.Sync()
	defer c.Close()

	if c.cfg.Queue.Driver == conf.InMemQueue {
		return errors.New("worker requires a shared queue driver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := transQueue.JobHandler(tagger.JobEndpoint(c.svc))

	c.log.Info("worker started",
		zap.String("queue", c.cfg.Queue.Name),
		zap.Int("concurrency", c.cfg.Queue.Concurrency),
	)

	return c.jobs.Consume(ctx, handler)
}

func enqueue(cli *cli.Context) error {
	kind, err := queue.ParseKind(cli.String("kind"))
	if err != nil {
		return err
	}

	folders := cli.Args().Slice()
	if len(folders) == 0 {
		return tagger.ErrNoFolders
	}

	for i, f := range folders {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}

		folders[i] = abs
	}

	factory, err := transPubSub.EnqueueFactory(cli.String("nats"))
	if err != nil {
		return err
	}

	endpoint, closer, err := factory(cli.String("instance"))
	if err != nil {
		return err
	}
	defer closer.Close()

	resp, err := endpoint(cli.Context, tagger.EnqueueRequest{Kind: kind, Folders: folders})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cli.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
