package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lithammer/dedent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/dairy-console/config"
	"github.com/raine/dairy-console/internal/metrics"
	"github.com/raine/dairy-console/internal/session"
	"github.com/raine/dairy-console/internal/storage"
)

// PruneInterval is how often expired SQLite entries are removed in watch mode.
const PruneInterval = time.Hour

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		showStatus   bool
		logout       bool
		watch        bool
		getPath      string
		accessToken  string
		refreshToken string
		userJSON     string
		profileJSON  string
	)
	flag.BoolVar(&showStatus, "status", false, "Print the stored session")
	flag.BoolVar(&logout, "logout", false, "Tear down the stored session")
	flag.BoolVar(&watch, "watch", false, "Keep the session fresh until interrupted")
	flag.StringVar(&getPath, "get", "", "GET an API path through the session guard")
	flag.StringVar(&accessToken, "access", "", "Sign in with this access token")
	flag.StringVar(&refreshToken, "refresh", "", "Refresh token to store with -access")
	flag.StringVar(&userJSON, "user", "{}", "User JSON to store with -access")
	flag.StringVar(&profileJSON, "profile", "{}", "Profile JSON to store with -access")
	flag.Parse()

	config.LoadEnvFile()
	cfg := config.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if missing := cfg.Missing(); len(missing) > 0 {
		log.Fatal().Str("missing", strings.Join(missing, ", ")).Msg("missing required config")
	}

	provider, closeProvider, err := openProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Session.Store).Msg("failed to open credential store")
	}
	defer closeProvider()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	sessionMetrics := metrics.NewSession(registry)
	identity := &session.IdentityStore{}
	store := storage.NewCredentialStore(provider, cfg.IsProduction())

	guard := session.New(store,
		session.WithBaseURL(cfg.APIBaseURL),
		session.WithTimeout(cfg.HTTPTimeout),
		session.WithIdentity(identity),
		session.WithNavigator(loginPrompt(cfg.APIBaseURL)),
		session.WithRedirectDelay(cfg.RedirectDelay),
		session.WithMetrics(sessionMetrics),
	)
	defer guard.Wait()

	if user, ok := store.Get(storage.UserDataKey); ok {
		identity.Set(user)
	}

	switch {
	case accessToken != "":
		signIn(guard, identity, accessToken, refreshToken, userJSON, profileJSON)
	case logout:
		guard.Logout(ctx)
	case showStatus:
		fmt.Print(formatStatus(guard.Status(), identity))
	case getPath != "":
		if err := get(ctx, guard, getPath); err != nil {
			log.Error().Err(err).Str("path", getPath).Msg("request failed")
			guard.Wait()
			os.Exit(1)
		}
	case watch:
		if err := run(ctx, cfg, guard, provider, registry); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("shutdown with error")
		} else {
			log.Info().Msg("shutdown complete")
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func openProvider(cfg *config.Config) (storage.Provider, func(), error) {
	switch cfg.Session.Store {
	case config.StoreMemory:
		return storage.NewMemoryJar(), func() {}, nil
	case config.StoreSQLite:
		p, err := storage.NewSQLiteProvider(cfg.Session.DBPath, cfg.Session.Scope, cfg.Session.TokenKey)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("dbPath", cfg.Session.DBPath).Str("scope", cfg.Session.Scope).Msg("credential store initialized")
		return p, func() { p.Close() }, nil
	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Session.RedisAddr})
		log.Info().Str("addr", cfg.Session.RedisAddr).Str("scope", cfg.Session.Scope).Msg("credential store initialized")
		return storage.NewRedisProvider(client, cfg.Session.Scope), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
}

// loginPrompt is the CLI's navigator: it tells the operator to sign in again.
func loginPrompt(baseURL string) session.Navigator {
	return session.NavigatorFunc(func(path string) error {
		_, err := fmt.Fprintf(os.Stderr, "Session expired. Sign in again at %s%s\n", strings.TrimRight(baseURL, "/"), path)
		return err
	})
}

func signIn(guard *session.Guard, identity *session.IdentityStore, accessToken, refreshToken, userJSON, profileJSON string) {
	var user, profile any
	if err := jsonArg(userJSON, &user); err != nil {
		log.Fatal().Err(err).Msg("invalid -user")
	}
	if err := jsonArg(profileJSON, &profile); err != nil {
		log.Fatal().Err(err).Msg("invalid -profile")
	}

	guard.SignIn(accessToken, refreshToken, user, profile)
	if u, ok := guard.Store().Get(storage.UserDataKey); ok {
		identity.Set(u)
	}

	if st := guard.Status(); st.Expired {
		log.Warn().Msg("stored access token is already expired or not a valid JWT")
	}
}

func jsonArg(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func get(ctx context.Context, guard *session.Guard, path string) error {
	res, err := guard.Fetch(ctx, path, session.RequestOptions{})
	if err != nil {
		return err
	}
	if err := guard.CheckAuth(res); err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("request failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}
	_, err = io.WriteString(os.Stdout, res.String()+"\n")
	return err
}

// run keeps the session alive until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, guard *session.Guard, provider storage.Provider, registry *prometheus.Registry) error {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.RefreshURL != "" {
		refresher := session.NewRefresher(guard, session.HTTPRefreshFunc(nil, cfg.RefreshURL), cfg.RefreshLead)
		g.Go(func() error {
			return refresher.Run(ctx)
		})
	} else {
		log.Info().Msg("SESSION_REFRESH_URL not set, proactive refresh disabled")
	}

	if p, ok := provider.(*storage.SQLiteProvider); ok {
		g.Go(func() error {
			return pruneExpired(ctx, p)
		})
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Block until interrupted even if nothing else was started
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	return g.Wait()
}

func pruneExpired(ctx context.Context, p *storage.SQLiteProvider) error {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := p.PruneExpired()
			if err != nil {
				log.Warn().Err(err).Msg("failed to prune expired credential entries")
				continue
			}
			log.Debug().Int64("removed", n).Msg("pruned expired credential entries")
		}
	}
}

func formatStatus(st session.Status, identity *session.IdentityStore) string {
	user, _ := identity.Current()
	if st.Claims == nil {
		return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(`
			State:   %s
			User:    %s
		`))+"\n", st.State, orNone(user))
	}
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(`
		State:   %s
		User:    %s
		Subject: %s
		Email:   %s
		Role:    %s
		Expired: %t
		Expires: %s (in %s)
	`))+"\n",
		st.State, orNone(user), st.Claims.Subject, st.Claims.Email, st.Claims.Role, st.Expired,
		time.Unix(st.Claims.ExpiresAt, 0).Format(time.RFC3339), st.ExpiresIn.Round(time.Second))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
