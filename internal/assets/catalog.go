package assets

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zapvendas/zapfunnel/pkg/logging"
)

// ErrUnknownAsset is returned when an id resolves nowhere.
var ErrUnknownAsset = errors.New("assets: unknown asset id")

const catalogKey = "asset_catalog"

// defaultCatalog seeds the symbolic id -> URL map. Redis overrides win so
// operators can swap creatives without a deploy.
var defaultCatalog = map[string]string{
	"audio.boas_vindas":        "https://cdn.zapvendas.com.br/audio/boas-vindas.ogg",
	"audio.dor_reconhecimento": "https://cdn.zapvendas.com.br/audio/dor-reconhecimento.ogg",
	"audio.pos_compra":         "https://cdn.zapvendas.com.br/audio/pos-compra.ogg",
	"img.resultado_1":          "https://cdn.zapvendas.com.br/img/resultado-1.jpg",
	"img.resultado_2":          "https://cdn.zapvendas.com.br/img/resultado-2.jpg",
	"img.tabela_planos":        "https://cdn.zapvendas.com.br/img/tabela-planos.jpg",
	"link.checkout":            "https://pay.zapvendas.com.br/checkout",
	"link.acesso":              "https://app.zapvendas.com.br/entrar",
}

// PlanPrices feeds the model's price-lookup tool.
var PlanPrices = map[string]string{
	"Plano Essencial": "R$97/mês",
	"Plano Completo":  "R$197/mês",
}

// Catalog resolves symbolic content ids to deliverable URLs.
type Catalog struct {
	redis  *redis.Client
	seed   map[string]string
	logger *logging.Logger
}

// NewCatalog creates a catalog. redisClient may be nil, in which case only
// the static seed is consulted.
func NewCatalog(redisClient *redis.Client, logger *logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.Default()
	}
	return &Catalog{
		redis:  redisClient,
		seed:   defaultCatalog,
		logger: logger,
	}
}

// Resolve maps one symbolic id to a URL, preferring a redis override.
func (c *Catalog) Resolve(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.New("assets: id required")
	}
	if c.redis != nil {
		url, err := c.redis.HGet(ctx, catalogKey, id).Result()
		if err == nil && url != "" {
			return url, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			// Redis being down should degrade to the seed, not break dispatch.
			c.logger.Warn("asset catalog redis lookup failed", "id", id, "error", err)
		}
	}
	if url, ok := c.seed[id]; ok {
		return url, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownAsset, id)
}

// Set writes an override into redis.
func (c *Catalog) Set(ctx context.Context, id, url string) error {
	if c.redis == nil {
		return errors.New("assets: redis not configured")
	}
	if id == "" || url == "" {
		return errors.New("assets: id and url required")
	}
	if err := c.redis.HSet(ctx, catalogKey, id, url).Err(); err != nil {
		return fmt.Errorf("assets: set override: %w", err)
	}
	return nil
}

// PlanPrice returns the advertised price for a plan name, used by the model
// tool loop.
func (c *Catalog) PlanPrice(name string) (string, bool) {
	price, ok := PlanPrices[name]
	return price, ok
}
