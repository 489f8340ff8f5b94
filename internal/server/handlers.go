package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sugoke/ambervision/internal/app"
	"github.com/sugoke/ambervision/internal/config"
	"github.com/sugoke/ambervision/internal/database"
	"github.com/sugoke/ambervision/internal/di"
	"github.com/sugoke/ambervision/internal/domain"
)

// Handlers bundles the HTTP handlers with their dependencies.
type Handlers struct {
	log       zerolog.Logger
	cfg       *config.Config
	container *di.Container
	importer  *app.ImportService
}

// NewHandlers creates the API handlers
func NewHandlers(log zerolog.Logger, cfg *config.Config, container *di.Container, importer *app.ImportService) *Handlers {
	return &Handlers{
		log:       log.With().Str("component", "handlers").Logger(),
		cfg:       cfg,
		container: container,
		importer:  importer,
	}
}

// HandleImport runs one batch posted directly in the request body.
func (h *Handlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	var batch domain.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid batch payload: "+err.Error())
		return
	}

	result, err := h.importer.ImportBatch(r.Context(), batch, triggeredBy(r))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// triggeredBy identifies the user behind a manual import, so breach alerts
// can be addressed to them. Defaults to the anonymous api principal.
func triggeredBy(r *http.Request) string {
	if user := r.URL.Query().Get("triggered_by"); user != "" {
		return user
	}
	return "api"
}

// HandleScan drains the inbox directory through the pipeline.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	results, err := h.importer.ScanInbox(r.Context(), triggeredBy(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if results == nil {
		results = []domain.BatchResult{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"batches": len(results),
		"results": results,
	})
}

// HandleListPositions lists positions for an owner, or for a (bank,
// portfolio) pair. Sold positions are included only with all=true.
func (h *Handlers) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	bankID := r.URL.Query().Get("bank_id")
	portfolioCode := r.URL.Query().Get("portfolio_code")

	var (
		positions []domain.Position
		err       error
	)

	switch {
	case ownerID != "":
		positions, err = h.container.PositionRepo.ListByOwner(ownerID)
	case bankID != "" && portfolioCode != "":
		activeOnly := r.URL.Query().Get("all") != "true"
		positions, err = h.container.PositionRepo.ListByPortfolio(bankID, portfolioCode, activeOnly)
	default:
		respondError(w, http.StatusBadRequest, "owner_id or bank_id+portfolio_code required")
		return
	}

	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	respondJSON(w, http.StatusOK, positions)
}

// HandleListSnapshots lists an owner's portfolio snapshots.
func (h *Handlers) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "owner_id required")
		return
	}

	snapshots, err := h.container.SnapshotRepo.ListByOwner(ownerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if snapshots == nil {
		snapshots = []domain.PortfolioSnapshot{}
	}
	respondJSON(w, http.StatusOK, snapshots)
}

// HandleListAllocations lists a client's product allocations.
func (h *Handlers) HandleListAllocations(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		respondError(w, http.StatusBadRequest, "client_id required")
		return
	}

	allocations, err := h.container.AllocationRepo.ListByClient(clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if allocations == nil {
		allocations = []domain.Allocation{}
	}
	respondJSON(w, http.StatusOK, allocations)
}

// HandleListAlerts lists all open alerts.
func (h *Handlers) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.container.AlertRepo.ListAll()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if alerts == nil {
		alerts = []domain.Alert{}
	}
	respondJSON(w, http.StatusOK, alerts)
}

// HandleListRuns lists recent import runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.container.RunRepo.ListRecent(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if runs == nil {
		runs = []domain.BatchResult{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// HandleHealth reports database integrity and host resource usage.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	databases := map[string]*database.DB{
		"reference": h.container.ReferenceDB,
		"positions": h.container.PositionsDB,
		"state":     h.container.StateDB,
		"alerts":    h.container.AlertsDB,
	}

	healthy := true
	dbStatus := make(map[string]string, len(databases))
	for name, db := range databases {
		if err := db.QuickCheck(ctx); err != nil {
			healthy = false
			dbStatus[name] = err.Error()
			continue
		}
		dbStatus[name] = "ok"
	}

	cpuPct, memPct := hostStats()

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":      state,
		"databases":   dbStatus,
		"cpu_percent": cpuPct,
		"mem_percent": memPct,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func hostStats() (float64, float64) {
	var cpuPct, memPct float64

	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		cpuPct = percentages[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		memPct = memStat.UsedPercent
	}

	return cpuPct, memPct
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
