package pricing

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/arcfault/switchboard/pkg/models"
)

// priceDocument is the subset of an AWS Pricing API price-list document the
// service reads. Each PriceList element is one serialized document.
type priceDocument struct {
	Product struct {
		Attributes map[string]string `json:"attributes"`
	} `json:"product"`
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// parsePriceRow extracts a pricing row from one price-list document.
// Bedrock publishes separate rows for input and output token meters; the
// caller merges them by normalized model ID.
func parsePriceRow(raw string, region string, now time.Time) (models.ModelPricing, bool) {
	var doc priceDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return models.ModelPricing{}, false
	}

	attrs := doc.Product.Attributes
	modelID := firstAttr(attrs, "model", "titanModel", "modelId")
	if modelID == "" {
		return models.ModelPricing{}, false
	}

	usd, ok := firstUSDPrice(doc)
	if !ok {
		return models.ModelPricing{}, false
	}

	row := models.ModelPricing{
		ModelID:     modelID,
		ModelName:   modelID,
		Provider:    strings.ToLower(firstAttr(attrs, "provider", "servicename")),
		Region:      region,
		LastUpdated: now,
		Source:      models.PricingSourceAWSAPI,
	}

	// The meter direction lives in the usage type or inference type.
	meter := strings.ToLower(firstAttr(attrs, "usagetype", "inferenceType"))
	switch {
	case strings.Contains(meter, "output"):
		row.OutputPricePer1k = usd
	case strings.Contains(meter, "input"):
		row.InputPricePer1k = usd
	default:
		return models.ModelPricing{}, false
	}
	return row, true
}

func firstAttr(attrs map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := attrs[k]; v != "" {
			return v
		}
	}
	return ""
}

// firstUSDPrice pulls the first USD price dimension and scales it to
// per-1k-tokens. Bedrock meters are published per 1k tokens already; other
// units are rejected.
func firstUSDPrice(doc priceDocument) (float64, bool) {
	for _, term := range doc.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			if !strings.Contains(strings.ToLower(dim.Unit), "token") {
				continue
			}
			raw, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v <= 0 {
				continue
			}
			return v, true
		}
	}
	return 0, false
}
