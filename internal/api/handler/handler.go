package handler

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/wirelessalien/moviesync/internal/calendar"
	"github.com/wirelessalien/moviesync/internal/engine"
	"github.com/wirelessalien/moviesync/internal/media"
	"github.com/wirelessalien/moviesync/internal/scheduler"
	"github.com/wirelessalien/moviesync/internal/tmdb"
)

type Handler struct {
	engine *engine.Engine
}

func New(eng *engine.Engine) *Handler {
	return &Handler{
		engine: eng,
	}
}

// Health reports that the server is up.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetJobs lists the scheduled jobs ordered by id.
func (h *Handler) GetJobs(c *gin.Context) {
	jobs := h.engine.GetScheduler().GetJobs()
	list := make([]scheduler.JobInfo, 0, len(jobs))
	for _, job := range jobs {
		list = append(list, job)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"jobs":    list,
	})
}

// RunJob triggers a job immediately.
func (h *Handler) RunJob(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.engine.GetScheduler().GetJob(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Job not found",
		})
		return
	}

	if err := h.engine.GetScheduler().RunJobNow(id); err != nil {
		log.Error("Failed to trigger job", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Job triggered",
	})
}

// GetStats returns database, disk and cache statistics.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		log.Error("Failed to get stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get stats",
		})
		return
	}

	files := make(map[string]string, len(stats.Database.Files))
	for name, size := range stats.Database.Files {
		files[name] = humanize.Bytes(toUint64(size))
	}
	lastRuns := make(map[string]string, len(stats.LastRuns))
	for name, t := range stats.LastRuns {
		if t == nil {
			lastRuns[name] = "never"
			continue
		}
		lastRuns[name] = humanize.Time(*t)
	}
	var disk gin.H
	if stats.Disk != nil {
		disk = gin.H{
			"path":        stats.Disk.Path,
			"free":        humanize.Bytes(stats.Disk.Free),
			"total":       humanize.Bytes(stats.Disk.Total),
			"usedPercent": stats.Disk.UsedPercent,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"tables":        stats.Database.Tables,
		"files":         files,
		"disk":          disk,
		"cache":         stats.Cache,
		"lastRuns":      lastRuns,
		"authenticated": stats.Authenticated,
		"tmdbAvailable": stats.TMDBAvailable,
	})
}

// GetCalendar lists the mirrored upcoming releases.
func (h *Handler) GetCalendar(c *gin.Context) {
	scope := c.Query("scope")
	switch scope {
	case "", calendar.ScopeMy, calendar.ScopeGlobal:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid scope",
		})
		return
	}

	entries, err := h.engine.Calendar(c.Request.Context(), scope)
	if err != nil {
		log.Error("Failed to get calendar", "scope", scope, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get calendar",
		})
		return
	}

	releases := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		releases = append(releases, gin.H{
			"scope":        e.Scope,
			"type":         e.Type,
			"airsAt":       e.AirsAt.UTC().Format(time.RFC3339),
			"title":        e.Title,
			"year":         e.Year,
			"traktId":      e.TraktID,
			"tmdbId":       e.TMDBID,
			"season":       e.Season,
			"number":       e.Number,
			"episodeTitle": e.EpisodeTitle,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"releases": releases,
	})
}

// GetDetails returns the tmdb details of a movie or show, fetching them on a cache miss.
func (h *Handler) GetDetails(c *gin.Context) {
	kind := media.ParseKind(c.Param("kind"))
	if kind != media.KindMovie && kind != media.KindShow {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid kind",
		})
		return
	}
	id, err := safecast.Convert[int64](c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid ID",
		})
		return
	}

	details, err := h.engine.Details(c.Request.Context(), media.TMDB(kind, id), c.Query("force") == "true")
	switch {
	case errors.Is(err, tmdb.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Not found",
		})
		return
	case err != nil:
		log.Error("Failed to get details", "kind", kind, "id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"details": gin.H{
			"source":       details.Source,
			"kind":         details.Kind,
			"id":           details.RemoteID,
			"name":         details.Name,
			"overview":     details.Overview,
			"posterPath":   details.PosterPath,
			"backdropPath": details.BackdropPath,
			"voteAverage":  details.VoteAverage,
			"releaseDate":  details.ReleaseDate,
			"genreIds":     details.GenreIDs,
			"seasons":      details.Seasons.Encode(),
			"fetchedAt":    details.FetchedAt.UTC().Format(time.RFC3339),
		},
	})
}

// ClearCache clears the api response caches.
func (h *Handler) ClearCache(c *gin.Context) {
	h.engine.ClearCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cache cleared",
	})
}

func toUint64(v int64) uint64 {
	u, err := safecast.Convert[uint64](v)
	if err != nil {
		return 0
	}
	return u
}
