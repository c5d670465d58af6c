// Package fetch provides data retrieval from the configured sales channels
package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/types"
)

// SupportedSource represents a sales data channel (aliased from types)
type SupportedSource = types.SupportedSource

// Supported sales data channels (aliased from types package)
const (
	SourceERP       = types.SourceERP
	SourcePOS       = types.SourcePOS
	SourceEcommerce = types.SourceEcommerce
	SourceWarehouse = types.SourceWarehouse
	SourceWholesale = types.SourceWholesale
)

// SourceConfig holds configuration for a specific sales channel
type SourceConfig = types.SourceConfig

// MultiSourceClient merges SKU history from every configured sales channel
type MultiSourceClient struct {
	baseConfig config.Config
	channels   map[SupportedSource]SourceConfig
	sources    map[SupportedSource][]Source
	mutex      sync.RWMutex
	cacheTTL   time.Duration
	cachedData map[string]SKUData
	cacheTime  map[string]time.Time
}

// NewMultiSourceClient creates a client that can fetch from multiple channels
func NewMultiSourceClient(base config.Config, channels map[SupportedSource]SourceConfig) *MultiSourceClient {
	return &MultiSourceClient{
		baseConfig: base,
		channels:   channels,
		sources:    make(map[SupportedSource][]Source),
		cacheTTL:   5 * time.Minute,
		cachedData: make(map[string]SKUData),
		cacheTime:  make(map[string]time.Time),
	}
}

// RegisterSource adds a data source for a specific channel
func (c *MultiSourceClient) RegisterSource(channel SupportedSource, source Source) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.sources[channel] = append(c.sources[channel], source)
	logrus.Infof("Registered source for channel %s", channel)
}

// Fetch retrieves SKU history from all enabled channels and merges it into
// one CoverageInput-ready bundle. The product record comes from the
// highest-weighted channel that returned one.
func (c *MultiSourceClient) Fetch(ctx context.Context, sku string) (SKUData, error) {
	if data, ok := c.cached(sku); ok {
		return data, nil
	}

	c.mutex.RLock()
	enabled := c.enabledChannels()
	c.mutex.RUnlock()

	type channelResult struct {
		channel SupportedSource
		data    SKUData
		err     error
	}

	var wg sync.WaitGroup
	resultCh := make(chan channelResult, len(enabled))

	for _, channel := range enabled {
		wg.Add(1)
		go func(channel SupportedSource) {
			defer wg.Done()

			srcCtx, cancel := context.WithTimeout(ctx, c.baseConfig.RequestTimeout)
			defer cancel()

			data, err := c.fetchChannel(srcCtx, channel, sku)
			resultCh <- channelResult{channel, data, err}
		}(channel)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var merged SKUData
	var productWeight float64
	primary := SupportedSource(c.baseConfig.PrimarySource)
	failures := map[SupportedSource]error{}

	for result := range resultCh {
		if result.err != nil {
			failures[result.channel] = result.err
			logrus.Warnf("Error fetching sku %s from channel %s: %v", sku, result.channel, result.err)
			continue
		}

		merged.Sales = append(merged.Sales, result.data.Sales...)
		merged.Availability = append(merged.Availability, result.data.Availability...)

		weight := 1.0
		if cfg, ok := c.channels[result.channel]; ok {
			weight = cfg.Weight
		}
		if result.data.Product == nil {
			continue
		}
		// Weight ties go to the primary channel so the product pick does
		// not depend on goroutine completion order.
		switch {
		case merged.Product == nil, weight > productWeight:
			merged.Product = result.data.Product
			productWeight = weight
		case weight == productWeight && result.channel == primary:
			merged.Product = result.data.Product
		}
	}

	if len(merged.Sales) == 0 && len(failures) > 0 {
		for _, err := range failures {
			return SKUData{}, fmt.Errorf("multi-source fetch failed for sku %s: %w", sku, err)
		}
	}

	succeeded := len(enabled) - len(failures)
	if c.baseConfig.MinSourceCount > 0 && succeeded < c.baseConfig.MinSourceCount {
		return SKUData{}, fmt.Errorf("only %d/%d channels responded for sku %s, need at least %d",
			succeeded, len(enabled), sku, c.baseConfig.MinSourceCount)
	}

	logrus.Infof("Fetched sku %s from %d/%d channels, total sales rows: %d",
		sku, succeeded, len(enabled), len(merged.Sales))

	c.mutex.Lock()
	c.cachedData[sku] = merged
	c.cacheTime[sku] = time.Now()
	c.mutex.Unlock()

	return merged, nil
}

// fetchChannel retrieves data for one channel, creating a default client for
// channels without an explicitly registered source.
func (c *MultiSourceClient) fetchChannel(ctx context.Context, channel SupportedSource, sku string) (SKUData, error) {
	c.mutex.RLock()
	sources := c.sources[channel]
	c.mutex.RUnlock()

	if len(sources) == 0 {
		defaultSource, err := c.createDefaultSource(channel)
		if err != nil {
			return SKUData{}, fmt.Errorf("no sources available for channel %s: %w", channel, err)
		}
		sources = []Source{defaultSource}
	}

	var merged SKUData
	var errs []error
	for _, source := range sources {
		data, err := source.Fetch(ctx, sku)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		merged.Sales = append(merged.Sales, data.Sales...)
		merged.Availability = append(merged.Availability, data.Availability...)
		if merged.Product == nil {
			merged.Product = data.Product
		}
	}

	if len(merged.Sales) == 0 && merged.Product == nil && len(errs) > 0 {
		return SKUData{}, fmt.Errorf("all sources failed for channel %s: %v", channel, errs[0])
	}
	return merged, nil
}

// createDefaultSource creates a basic client for the specified channel
func (c *MultiSourceClient) createDefaultSource(channel SupportedSource) (Source, error) {
	c.mutex.RLock()
	channelConfig, ok := c.channels[channel]
	c.mutex.RUnlock()

	if !ok || !channelConfig.Enabled {
		return nil, fmt.Errorf("channel %s not configured or disabled", channel)
	}

	switch channel {
	case SourceERP:
		return NewERPClient(c.baseConfig), nil
	case SourcePOS:
		return NewPOSClient(c.baseConfig), nil
	case SourceEcommerce:
		return NewEcommerceClient(c.baseConfig), nil
	default:
		return nil, fmt.Errorf("no default client for channel %s", channel)
	}
}

// enabledChannels returns a list of channels that are enabled
func (c *MultiSourceClient) enabledChannels() []SupportedSource {
	var enabled []SupportedSource
	for channel, cfg := range c.channels {
		if cfg.Enabled {
			enabled = append(enabled, channel)
		}
	}
	return enabled
}

// CachedSKUs returns the SKUs with a fresh cache entry, sorted for
// deterministic iteration.
func (c *MultiSourceClient) CachedSKUs() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	skus := make([]string, 0, len(c.cacheTime))
	for sku, at := range c.cacheTime {
		if time.Since(at) < c.cacheTTL {
			skus = append(skus, sku)
		}
	}
	sort.Strings(skus)
	return skus
}

// cached returns a fresh cache entry for the SKU when one exists.
func (c *MultiSourceClient) cached(sku string) (SKUData, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	data, ok := c.cachedData[sku]
	if !ok || time.Since(c.cacheTime[sku]) >= c.cacheTTL {
		return SKUData{}, false
	}
	return data, true
}
