// Package pricing resolves per-token model prices. Live prices come from
// the AWS Pricing API and refresh on an interval; a hand-maintained
// fallback table covers misses and API outages.
package pricing

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// API is the subset of the AWS Pricing client the service uses.
type API interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// Config configures the pricing service.
type Config struct {
	// Region scopes price lookups.
	Region string

	// RefreshInterval is how often live prices are refetched.
	RefreshInterval time.Duration
}

// Service resolves model prices. Safe for concurrent use.
type Service struct {
	api    API
	cfg    Config
	logger *observability.Logger

	mu    sync.RWMutex
	table map[string]models.ModelPricing

	stop chan struct{}
	once sync.Once
}

// New creates a pricing service. api may be nil, in which case only the
// fallback table serves.
func New(api API, cfg Config, logger *observability.Logger) *Service {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 24 * time.Hour
	}
	return &Service{
		api:    api,
		cfg:    cfg,
		logger: logger,
		table:  make(map[string]models.ModelPricing),
		stop:   make(chan struct{}),
	}
}

// Start fetches live prices once and then refreshes on the configured
// interval until Stop is called. The initial fetch failure is non-fatal.
func (s *Service) Start(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn(ctx, "initial pricing fetch failed, serving fallback prices", "error", err.Error())
	}
	go s.refreshLoop()
}

// Stop terminates the refresh loop.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Service) refreshLoop() {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn(ctx, "pricing refresh failed, keeping previous table", "error", err.Error())
			}
			cancel()
		}
	}
}

// Refresh fetches the current Bedrock price list and replaces the live
// table. Rows that fail to parse are skipped.
func (s *Service) Refresh(ctx context.Context) error {
	if s.api == nil {
		return nil
	}

	input := &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonBedrock"),
		Filters: []types.Filter{
			{
				Type:  types.FilterTypeTermMatch,
				Field: aws.String("regionCode"),
				Value: aws.String(s.cfg.Region),
			},
		},
		MaxResults: aws.Int32(100),
	}

	fresh := make(map[string]models.ModelPricing)
	now := time.Now()

	for {
		out, err := s.api.GetProducts(ctx, input)
		if err != nil {
			return err
		}
		for _, raw := range out.PriceList {
			row, ok := parsePriceRow(raw, s.cfg.Region, now)
			if !ok {
				continue
			}
			key := NormalizeModelID(row.ModelID)
			merged := fresh[key]
			if merged.ModelID == "" {
				merged = row
				merged.ModelID = key
			}
			if row.InputPricePer1k > 0 {
				merged.InputPricePer1k = row.InputPricePer1k
			}
			if row.OutputPricePer1k > 0 {
				merged.OutputPricePer1k = row.OutputPricePer1k
			}
			fresh[key] = merged
		}
		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		input.NextToken = out.NextToken
	}

	if len(fresh) == 0 {
		return nil
	}

	s.mu.Lock()
	s.table = fresh
	s.mu.Unlock()
	s.logger.Info(ctx, "pricing table refreshed", "models", len(fresh))
	return nil
}

// Lookup returns the price row for a model, falling back to the static
// table and finally to the default row.
func (s *Service) Lookup(modelID string) models.ModelPricing {
	key := NormalizeModelID(modelID)

	s.mu.RLock()
	row, ok := s.table[key]
	s.mu.RUnlock()
	if ok {
		return row
	}

	if row, ok := fallbackTable[key]; ok {
		return row
	}

	// Family prefix match covers versioned IDs absent from both tables.
	for prefix, row := range fallbackTable {
		if strings.HasPrefix(key, prefix) {
			return row
		}
	}

	row = defaultPricing
	row.ModelID = key
	return row
}

// CalculateCost computes the cost of one completion. All costs are rounded
// to 8 decimals and TotalCost is the rounded sum of the rounded parts, so
// totalCost == inputCost + outputCost holds exactly.
func (s *Service) CalculateCost(modelID string, inputTokens, outputTokens int, region string) models.CostBreakdown {
	row := s.Lookup(modelID)

	inputCost := round8(float64(inputTokens) / 1000 * row.InputPricePer1k)
	outputCost := round8(float64(outputTokens) / 1000 * row.OutputPricePer1k)

	return models.CostBreakdown{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  round8(inputCost + outputCost),
		Source:     row.Source,
	}
}

// NormalizeModelID strips provider prefixes and version suffixes so pricing
// rows and routing IDs agree: "us.anthropic.claude-sonnet-4:0" and
// "claude-sonnet-4" resolve to the same row.
func NormalizeModelID(modelID string) string {
	id := strings.ToLower(strings.TrimSpace(modelID))

	// Cross-region inference profiles carry a geo prefix.
	for _, geo := range []string{"us.", "eu.", "apac.", "global."} {
		id = strings.TrimPrefix(id, geo)
	}
	for _, vendor := range []string{"anthropic.", "amazon.", "meta.", "mistral.", "cohere.", "ai21."} {
		id = strings.TrimPrefix(id, vendor)
	}

	// Version suffixes: ":0", "-v1:0", "-v2".
	if idx := strings.Index(id, ":"); idx > 0 {
		id = id[:idx]
	}
	if idx := strings.LastIndex(id, "-v"); idx > 0 {
		rest := id[idx+2:]
		if rest != "" && isDigits(strings.ReplaceAll(rest, ".", "")) {
			id = id[:idx]
		}
	}
	return id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
