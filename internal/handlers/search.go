package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/search"
)

type SearchHandler struct {
	backend search.Backend
}

// Search queries one index. Thread searches accept category, tags and
// author facet filters.
func (h *SearchHandler) Search(c *gin.Context) {
	index := c.DefaultQuery("index", search.IndexThreads)
	if !search.KnownIndex(index) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown index: " + index})
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	hitsPerPage, _ := strconv.Atoi(c.Query("hits_per_page"))
	text := c.Query("q")

	var (
		result *search.Result
		err    error
	)
	ctx := c.Request.Context()
	if index == search.IndexThreads {
		result, err = search.SearchThreads(ctx, h.backend, search.ThreadParams{
			Text: text,
			Filters: search.Filters{
				Categories: splitList(c.QueryArray("category")),
				Tags:       splitList(c.QueryArray("tags")),
				Authors:    splitList(c.QueryArray("author")),
			},
			Page:        page,
			HitsPerPage: hitsPerPage,
		})
	} else {
		result, err = search.SearchIndex(ctx, h.backend, index, text, page, hitsPerPage)
	}
	if err != nil {
		logging.FromContext(ctx).Error("search failed", zap.String("index", index), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Search is unavailable"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// SearchAll queries every index at once for a quick-search dropdown
func (h *SearchHandler) SearchAll(c *gin.Context) {
	ctx := c.Request.Context()
	results, err := search.SearchAll(ctx, h.backend, c.Query("q"))
	if err != nil {
		logging.FromContext(ctx).Error("multi-index search failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Search is unavailable"})
		return
	}
	c.JSON(http.StatusOK, results)
}

// splitList accepts both repeated and comma separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
