package config

import (
	"errors"
	"flag"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	DBUrl        string
	ArtifactDir  string
	SessionToken string
	MaxAttempts  int
	JobDelay     time.Duration
	StaleAfter   time.Duration
	Debug        bool
}

// ParseFlags reads configuration from command-line flags, with defaults
// taken from the environment (a .env file is loaded first if present).
func ParseFlags() (cfg Config, err error) {
	_ = godotenv.Load()

	var host string
	flag.StringVar(&host, "host", envOr("SUGB_HOST", "0.0.0.0"), "listen host name")
	var port uint
	flag.UintVar(&port, "port", envUintOr("SUGB_PORT", 8080), "listen port number")
	flag.StringVar(&cfg.DBUrl, "db-url", envOr("SUGB_DB_URL", "sugb.sqlite"), "path to SQLite3 DB file")
	flag.StringVar(&cfg.ArtifactDir, "artifact-dir", envOr("SUGB_ARTIFACT_DIR", "artifacts"), "directory for generated report files")
	flag.StringVar(&cfg.SessionToken, "session-token", os.Getenv("SUGB_SESSION_TOKEN"), "static bearer token accepted by the dev session verifier")
	var maxAttempts uint
	flag.UintVar(&maxAttempts, "job-max-attempts", envUintOr("SUGB_JOB_MAX_ATTEMPTS", 3), "max render attempts per queue job")
	var jobDelay uint
	flag.UintVar(&jobDelay, "job-delay-ms", envUintOr("SUGB_JOB_DELAY_MS", 1000), "delay between processed jobs in milliseconds")
	var staleAfter uint
	flag.UintVar(&staleAfter, "job-stale-minutes", envUintOr("SUGB_JOB_STALE_MINUTES", 15), "reclaim processing jobs older than this many minutes (0 disables)")
	flag.BoolVar(&cfg.Debug, "debug", false, "log at DEBUG level")
	flag.Parse()

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.MaxAttempts = int(maxAttempts)
	cfg.JobDelay = time.Duration(jobDelay) * time.Millisecond
	cfg.StaleAfter = time.Duration(staleAfter) * time.Minute

	if cfg.SessionToken == "" {
		err = errors.New("missing parameter -session-token")
	}

	return
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUintOr(key string, fallback uint) uint {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint(n)
		}
	}
	return fallback
}
