package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goatnetwork/peg-relayer/internal/db"
	"github.com/goatnetwork/peg-relayer/internal/state"
	log "github.com/sirupsen/logrus"
)

type HTTPServer interface {
	Start(ctx context.Context)
}

// ActivityReader is the query side of the relay journal.
type ActivityReader interface {
	Recent(limit int, kind string) ([]db.RelayRecord, error)
}

type HTTPServerImpl struct {
	port    string
	state   *state.State
	journal ActivityReader
}

var _ HTTPServer = (*HTTPServerImpl)(nil)

func NewHTTPServer(port string, state *state.State, journal ActivityReader) *HTTPServerImpl {
	return &HTTPServerImpl{
		port:    port,
		state:   state,
		journal: journal,
	}
}

func (hs *HTTPServerImpl) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/v1/health", handleHealth)
	r.GET("/api/v1/status", hs.handleStatus)
	r.GET("/api/v1/activity", hs.handleActivity)
	return r
}

// Start serves until ctx is done.
func (hs *HTTPServerImpl) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              ":" + hs.port,
		Handler:           hs.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("HTTP server shutdown: %v", err)
		}
	}()

	log.Infof("HTTP server is running on port %s", hs.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("HTTP server stopped: %v", err)
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (hs *HTTPServerImpl) handleStatus(c *gin.Context) {
	poll := hs.state.GetPoll()
	queue := hs.state.GetQueue()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": StatusResponse{
		Poll: PollStatus{
			CycleID:               poll.CycleID,
			Cycles:                poll.Cycles,
			StartedAt:             poll.StartedAt,
			FinishedAt:            poll.FinishedAt,
			Skipped:               poll.Skipped,
			LocalFederator:        poll.LocalFederator,
			SourceHeight:          poll.SourceHeight,
			BridgeHeight:          poll.BridgeHeight,
			LastHeaderRelay:       poll.LastHeaderRelay,
			LastCollectionsUpdate: poll.LastCollectionsUpdate,
			LastTargetBlock:       poll.LastTargetBlock,
			ImportError:           poll.ImportError,
			ReleaseError:          poll.ReleaseError,
		},
		Queue: QueueStatus{
			Depth:    queue.Depth,
			Dropped:  queue.Dropped,
			Capacity: queue.Capacity,
		},
	}})
}

func (hs *HTTPServerImpl) handleActivity(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxActivityLimit {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid limit"})
			return
		}
		limit = n
	}
	records, err := hs.journal.Recent(limit, c.Query("kind"))
	if err != nil {
		log.Errorf("Query activity: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": records})
}
