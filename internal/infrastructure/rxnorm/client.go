// Package rxnorm is a thin client for the National Library of
// Medicine's RxNorm REST API, used to look up related drug products
// when the static alternatives catalog has no entry for a medicine.
package rxnorm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medsafe/go-rxcheck/internal/observability/metrics"
	"github.com/medsafe/go-rxcheck/pkg/circuitbreaker"
)

const (
	defaultBaseURL = "https://rxnav.nlm.nih.gov/REST"
	defaultTimeout = 10 * time.Second

	maxResponseBytes = 4 << 20
)

// Drug is one related drug product.
type Drug struct {
	Name     string
	RxCUI    string
	Strength string
	DoseForm string
}

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client queries RxNorm through a circuit breaker. All methods are safe
// for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	breaker *circuitbreaker.Breaker
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New builds a client. Breaker and metrics may be nil.
func New(cfg Config, breaker *circuitbreaker.Breaker, m *metrics.Metrics, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		metrics: m,
		logger:  logger,
	}
}

type idGroupResponse struct {
	IDGroup struct {
		RxNormID []string `json:"rxnormId"`
	} `json:"idGroup"`
}

// FindRxCUI resolves a medicine name to its RxNorm concept identifier
// using normalized search. It returns an empty string, without error,
// when the name is unknown.
func (c *Client) FindRxCUI(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/rxcui.json?name=%s&search=2", c.baseURL, url.QueryEscape(name))

	var out idGroupResponse
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return "", err
	}
	if len(out.IDGroup.RxNormID) == 0 {
		return "", nil
	}
	return out.IDGroup.RxNormID[0], nil
}

type relatedResponse struct {
	RelatedGroup struct {
		ConceptGroup []struct {
			TTY               string `json:"tty"`
			ConceptProperties []struct {
				RxCUI        string `json:"rxcui"`
				Name         string `json:"name"`
				Strength     string `json:"strength"`
				DoseFormName string `json:"doseFormName"`
			} `json:"conceptProperties"`
		} `json:"conceptGroup"`
	} `json:"relatedGroup"`
}

// RelatedDrugs returns the drug products related to an RxCUI.
func (c *Client) RelatedDrugs(ctx context.Context, rxcui string) ([]Drug, error) {
	endpoint := fmt.Sprintf("%s/rxcui/%s/related.json", c.baseURL, url.PathEscape(rxcui))

	var out relatedResponse
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}

	var drugs []Drug
	for _, group := range out.RelatedGroup.ConceptGroup {
		for _, prop := range group.ConceptProperties {
			drugs = append(drugs, Drug{
				Name:     prop.Name,
				RxCUI:    prop.RxCUI,
				Strength: prop.Strength,
				DoseForm: prop.DoseFormName,
			})
		}
	}
	return drugs, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	fetch := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("rxnorm request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rxnorm: unexpected status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("rxnorm: read response: %w", err)
		}
		return body, nil
	}

	var (
		res interface{}
		err error
	)
	if c.breaker != nil {
		res, err = c.breaker.Execute(ctx, fetch)
	} else {
		res, err = fetch()
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.ReferenceLookups.WithLabelValues("error").Inc()
		}
		return err
	}
	if c.metrics != nil {
		c.metrics.ReferenceLookups.WithLabelValues("success").Inc()
	}

	if err := json.Unmarshal(res.([]byte), out); err != nil {
		return fmt.Errorf("rxnorm: decode response: %w", err)
	}
	return nil
}
