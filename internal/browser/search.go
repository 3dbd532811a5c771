package browser

import (
	"context"
	"strings"

	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/models"
)

// SetSearchQuery schedules a search after the debounce window. Only the last
// query typed within the window runs. An empty query clears the search.
func (c *Controller) SetSearchQuery(query string) {
	if strings.TrimSpace(query) == "" {
		c.ClearSearch()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.stopDebounceLocked()
	c.searchGen++
	sg := c.searchGen
	c.s.SearchQuery = query
	c.s.SearchError = nil

	c.wg.Add(1)
	c.debounce = c.clock.AfterFunc(constants.SearchDebounce, func() {
		defer c.wg.Done()
		c.runSearch(sg, query)
	})
	c.publishLocked()
}

// ClearSearch leaves search mode and restores the directory listing without a fetch
func (c *Controller) ClearSearch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopDebounceLocked()
	c.searchGen++
	if c.s.SearchQuery == "" && !c.s.SearchActive && !c.s.SearchLoading && c.s.SearchError == nil {
		return
	}

	c.s.SearchQuery = ""
	c.s.SearchActive = false
	c.s.SearchResults = nil
	c.s.SearchLoading = false
	c.s.SearchError = nil
	c.s.Page = 1
	c.publishLocked()
}

// runSearch executes query if no newer query or navigation superseded it
func (c *Controller) runSearch(sg uint64, query string) {
	c.mu.Lock()
	if sg != c.searchGen {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if entry, ok := c.cache.Search(c.ctx, query); ok {
		c.applySearch(sg, query, &entry.Payload, nil)
		return
	}

	c.mu.Lock()
	if sg != c.searchGen {
		c.mu.Unlock()
		return
	}
	c.s.SearchLoading = true
	c.publishLocked()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, constants.HTTPRequestTimeout)
	defer cancel()

	payload, err := c.gw.Search(ctx, strings.TrimSpace(query))
	if c.applySearch(sg, query, payload, err) {
		c.cache.SetSearch(c.ctx, query, payload)
	}
}

// applySearch installs a search outcome and reports whether it was a current success
func (c *Controller) applySearch(sg uint64, query string, payload *models.DirectoryPayload, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sg != c.searchGen {
		c.metrics.RecordStaleResponse(c.surface)
		c.logger.Debug().Str("query", query).Msg("Dropped superseded search result")
		return false
	}

	c.s.SearchLoading = false
	if err != nil {
		c.s.SearchError = err
		c.publishLocked()
		c.logger.Debug().Str("query", query).Err(err).Msg("Search failed")
		return false
	}
	if payload == nil {
		payload = &models.DirectoryPayload{}
	}

	c.s.SearchActive = true
	c.s.SearchResults = payload
	c.s.SearchError = nil
	c.s.Page = 1
	c.publishLocked()
	return true
}
