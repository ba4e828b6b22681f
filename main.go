package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nonamed-dns/nonamed/cache"
	"github.com/nonamed-dns/nonamed/config"
	"github.com/nonamed-dns/nonamed/dnsutil"
	"github.com/nonamed-dns/nonamed/scheduler"
	"github.com/nonamed-dns/nonamed/server"
)

const version = "1.0.0"

type flags struct {
	config string
	debug  int
	port   int
	dump   bool
	single bool
	local  bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout))
}

// execute runs the command line and returns the process exit code.
func execute(args []string, out io.Writer) int {
	cmd := newCommand(out)
	cmd.SetArgs(debugArgs(args))

	if err := cmd.Execute(); err != nil {
		return 1
	}

	return 0
}

var debugArg = regexp.MustCompile(`^-d(\d+)$`)

// debugArgs turns the attached form -dN into --debug=N.
func debugArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if m := debugArg.FindStringSubmatch(arg); m != nil {
			arg = "--debug=" + m[1]
		}
		out = append(out, arg)
	}
	return out
}

func newCommand(out io.Writer) *cobra.Command {
	f := new(flags)

	cmd := &cobra.Command{
		Use:           "nonamed [-qsL] [-d[level]] [-p port]",
		Short:         "Caching DNS relay",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "nonamed:", err)
				return err
			}

			verbosity := setupLogger(cfg)

			if cfg.Dump {
				err = dump(cfg, out)
			} else {
				err = serve(cfg, verbosity)
			}
			if err != nil {
				zlog.Error("Fatal error", "error", err.Error())
				if cfg.Debug >= 3 {
					panic(err)
				}
			}
			return err
		},
	}

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		fmt.Fprintln(c.ErrOrStderr(), "nonamed:", err)
		fmt.Fprintln(c.ErrOrStderr(), "Usage:", c.UseLine())
		return err
	})

	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "nonamed.toml", "location of the config file, if not found it will be generated")
	fl.IntVarP(&f.debug, "debug", "d", 0, "debug level")
	fl.Lookup("debug").NoOptDefVal = "1"
	fl.IntVarP(&f.port, "port", "p", server.UpstreamPort, "port to listen on")
	fl.BoolVarP(&f.dump, "dump", "q", false, "dump the cache and quit")
	fl.BoolVarP(&f.single, "single", "s", false, "single mode, no hosts, cache or pid file")
	fl.BoolVarP(&f.local, "local", "L", false, "answer local queries only")

	return cmd
}

// loadConfig reads the config file and lays the command line over it.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.config, version)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("port") {
		if f.port <= 0 || f.port > 65535 {
			return nil, fmt.Errorf("invalid port %d", f.port)
		}
		cfg.Port = f.port
	}
	if f.debug < 0 {
		return nil, fmt.Errorf("invalid debug level %d", f.debug)
	}

	cfg.Debug = f.debug
	cfg.Dump = f.dump
	cfg.Single = f.single
	cfg.LocalOnly = cfg.LocalOnly || f.local

	return cfg, nil
}

// setupLogger installs the default logger and returns the hook that
// follows debug level changes.
func setupLogger(cfg *config.Config) func(int) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())

	verbosity := func(level int) {
		if level >= 1 {
			logger.SetLevel(zlog.LevelDebug)
			return
		}
		switch cfg.LogLevel {
		case "debug":
			logger.SetLevel(zlog.LevelDebug)
		case "warn":
			logger.SetLevel(zlog.LevelWarn)
		case "error":
			logger.SetLevel(zlog.LevelError)
		default:
			logger.SetLevel(zlog.LevelInfo)
		}
	}
	verbosity(cfg.Debug)

	zlog.SetDefault(logger)

	return verbosity
}

// openStore returns where the cache snapshot lives, nil in single mode.
func openStore(cfg *config.Config) cache.Store {
	if cfg.Single {
		return nil
	}

	switch cfg.Cachestore {
	case "redis":
		return cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key)
	default:
		return &cache.FileStore{Path: cfg.Cachefile}
	}
}

func closeStore(store cache.Store) {
	if c, ok := store.(io.Closer); ok {
		_ = c.Close()
	}
}

// dump prints every cache entry of the snapshot.
func dump(cfg *config.Config, w io.Writer) error {
	store := openStore(cfg)
	if store == nil {
		return errors.New("no cache in single mode")
	}
	defer closeStore(store)

	c := cache.New(math.MaxInt, nil)
	if err := c.Restore(store); err != nil {
		return err
	}

	now := c.Now()
	fmt.Fprintf(w, "%d entries, %d bytes\n", c.Len(), c.Bytes())
	c.Each(func(e *cache.Entry) {
		fmt.Fprintf(w, "%s %s usage %d age %d flags %#x\n",
			e.Name, dns.TypeToString[e.Type], e.Usage, e.Age(now), e.Flags)
		fmt.Fprint(w, dnsutil.Tell(e.Packet, 2))
	})

	return nil
}

// serve runs the daemon until it is told to stop.
func serve(cfg *config.Config, verbosity func(int)) error {
	zlog.Info("Starting nonamed...", "version", version)

	bind := netip.IPv4Unspecified()
	if cfg.Bind != "" {
		addr, err := netip.ParseAddr(cfg.Bind)
		if err != nil {
			return fmt.Errorf("invalid bind address: %w", err)
		}
		bind = addr.Unmap()
	}
	addr := netip.AddrPortFrom(bind, uint16(cfg.Port))

	poller, err := scheduler.NewPoller()
	if err != nil {
		return err
	}
	defer poller.Close()

	udp, err := server.ListenUDP(addr)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", addr, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := openStore(cfg)
	defer closeStore(store)

	srv, err := server.New(cfg, server.Options{
		Poller:    poller,
		UDP:       udp,
		Listen:    server.ListenTCP,
		Dial:      server.DialTCP,
		Store:     store,
		Registry:  reg,
		Verbosity: verbosity,
		Signals:   true,
		Watch:     true,
	})
	if err != nil {
		_ = udp.Close()
		return err
	}
	defer srv.Close()

	if !cfg.Single && cfg.Pidfile != "" {
		if err := writePid(cfg.Pidfile); err != nil {
			zlog.Warn("Pid file write failed", "path", cfg.Pidfile, "error", err.Error())
		} else {
			defer os.Remove(cfg.Pidfile)
		}
	}

	g, ctx := errgroup.WithContext(context.Background())

	var api *http.Server
	if cfg.API != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		api = &http.Server{Addr: cfg.API, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			zlog.Info("API server listening...", "addr", cfg.API)
			if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		err := srv.Run(ctx)
		if api != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = api.Shutdown(sctx)
		}
		return err
	})

	err = g.Wait()
	if err == nil {
		zlog.Info("Stopped nonamed")
	}

	return err
}

func writePid(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
