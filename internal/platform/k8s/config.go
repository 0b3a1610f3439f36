package k8s

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/animus-inspect/internal/platform/env"
)

const (
	defaultTokenFile = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	defaultCAFile    = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

type Config struct {
	APIURL             string
	Token              string
	TokenFile          string
	CAFile             string
	InsecureSkipVerify bool
	Timeout            time.Duration
	TokenRefresh       time.Duration
}

// ConfigFromEnv prefers KUBERNETES_API_URL and falls back to the in-cluster
// service address.
func ConfigFromEnv() (Config, error) {
	apiURL := env.String("KUBERNETES_API_URL", "")
	if apiURL == "" {
		host := env.String("KUBERNETES_SERVICE_HOST", "")
		port := env.String("KUBERNETES_SERVICE_PORT", "443")
		if host != "" {
			apiURL = "https://" + host + ":" + port
		} else {
			apiURL = "https://kubernetes.default.svc"
		}
	}
	insecure, err := env.Bool("KUBERNETES_INSECURE_SKIP_VERIFY", false)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("KUBERNETES_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	refresh, err := env.Duration("KUBERNETES_TOKEN_REFRESH", time.Minute)
	if err != nil {
		return Config{}, err
	}
	return Config{
		APIURL:             apiURL,
		Token:              env.String("KUBERNETES_TOKEN", ""),
		TokenFile:          env.String("KUBERNETES_TOKEN_FILE", defaultTokenFile),
		CAFile:             env.String("KUBERNETES_CA_FILE", defaultCAFile),
		InsecureSkipVerify: insecure,
		Timeout:            timeout,
		TokenRefresh:       refresh,
	}, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return errors.New("KUBERNETES_API_URL is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("KUBERNETES_API_URL is invalid: %q", c.APIURL)
	}
	if c.Token == "" && c.TokenFile == "" {
		return errors.New("KUBERNETES_TOKEN or KUBERNETES_TOKEN_FILE is required")
	}
	if c.Timeout < 0 {
		return errors.New("KUBERNETES_TIMEOUT must be >= 0")
	}
	return nil
}
