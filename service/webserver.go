package service

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"crowd-density/common"
	"crowd-density/common/config"
	"crowd-density/common/log"
	"crowd-density/dashboard"
	"crowd-density/media"
	"crowd-density/pipeline"
	"crowd-density/store"
	"crowd-density/telemetry"
)

// WebServer serves the upload intake and the dashboard query surface.
type WebServer struct {
	Settings  *config.Settings
	Store     *store.DataStore
	Pipeline  *pipeline.Manager
	Dashboard *dashboard.Service
}

func NewWebServer(settings *config.Settings, ds *store.DataStore, pm *pipeline.Manager) *WebServer {
	return &WebServer{
		Settings:  settings,
		Store:     ds,
		Pipeline:  pm,
		Dashboard: dashboard.NewService(ds),
	}
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router builds the full route table.
func (ws *WebServer) Router() *mux.Router {
	router := mux.NewRouter()

	// CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	api := router.PathPrefix("/api").Subrouter()

	// Upload intake
	api.HandleFunc("/upload/image", ws.handleUploadImage).Methods("POST", "OPTIONS")
	api.HandleFunc("/upload/video", ws.handleUploadVideo).Methods("POST", "OPTIONS")
	api.HandleFunc("/jobs/{id}", ws.handleJobByID).Methods("GET", "DELETE", "OPTIONS")

	// Dashboard and analytics
	api.HandleFunc("/dashboard/metrics", ws.handleDashboardMetrics).Methods("GET", "OPTIONS")
	api.HandleFunc("/dashboard/heatmap", ws.handleDashboardHeatmap).Methods("GET", "OPTIONS")
	api.HandleFunc("/dashboard/alerts", ws.handleDashboardAlerts).Methods("GET", "OPTIONS")
	api.HandleFunc("/analytics/density-trends", ws.handleDensityTrends).Methods("GET", "OPTIONS")
	api.HandleFunc("/analytics/zone-stats", ws.handleZoneStats).Methods("GET", "OPTIONS")
	api.HandleFunc("/analytics/export", ws.handleExportCSV).Methods("GET", "OPTIONS")

	// Configuration
	api.HandleFunc("/zones", ws.handleAPIZones).Methods("GET", "POST", "OPTIONS")
	api.HandleFunc("/zones/{id}", ws.handleAPIZoneByID).Methods("GET", "PUT", "OPTIONS")
	api.HandleFunc("/cameras", ws.handleAPICameras).Methods("GET", "POST", "OPTIONS")
	api.HandleFunc("/cameras/{id}", ws.handleAPICameraByID).Methods("GET", "PUT", "DELETE", "OPTIONS")

	// Processed artifacts
	api.HandleFunc("/files/{name}", ws.handleProcessedFile).Methods("GET", "OPTIONS")

	api.HandleFunc("/ping", ws.handleAPIPing).Methods("GET", "OPTIONS")

	router.Handle("/metrics", telemetry.Handler()).Methods("GET")
	return router
}

// Start blocks serving HTTP on the configured port.
func (ws *WebServer) Start() error {
	addr := fmt.Sprintf(":%d", ws.Settings.WebPort)
	log.Info("web server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, ws.Router())
}

func writeJSON(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := APIResponse{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusForReason maps taxonomy codes onto HTTP statuses for the blocking
// intake path.
func statusForReason(code common.ReasonCode) int {
	switch code {
	case common.ReasonPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case common.ReasonUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case common.ReasonCorruptMedia:
		return http.StatusUnprocessableEntity
	case common.ReasonDetectionUnavailable:
		return http.StatusBadGateway
	case common.ReasonCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (ws *WebServer) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	ws.handleUpload(w, r, common.MediaKindImage)
}

func (ws *WebServer) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	ws.handleUpload(w, r, common.MediaKindVideo)
}

// handleUpload accepts a multipart file, persists it, submits a job and
// blocks until the job reaches a terminal state. Clients that prefer
// polling can use GET /api/jobs/{id} with the returned job ID instead.
func (ws *WebServer) handleUpload(w http.ResponseWriter, r *http.Request, wantKind common.MediaKind) {
	r.Body = http.MaxBytesReader(w, r.Body, ws.Settings.MaxUploadBytes+1)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds size limit or is malformed", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field", err)
		return
	}
	defer file.Close()

	if err := media.CheckSize(header.Size, ws.Settings.MaxUploadBytes); err != nil {
		writeError(w, statusForReason(common.ReasonOf(err)), "Upload exceeds size limit", err)
		return
	}
	kind, err := media.KindOf(header.Filename)
	if err != nil {
		writeError(w, statusForReason(common.ReasonOf(err)), "Unsupported file format", err)
		return
	}
	if kind != wantKind {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("Endpoint accepts %s uploads, got %s", wantKind, kind), nil)
		return
	}

	zoneID, err := optionalUintForm(r, "zone_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid zone_id", err)
		return
	}
	cameraID, err := optionalUintForm(r, "camera_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid camera_id", err)
		return
	}
	if zoneID != nil {
		if _, err := ws.Store.GetZone(*zoneID); err != nil {
			writeError(w, http.StatusNotFound, "Zone not found", err)
			return
		}
	}

	jobID := uuid.New().String()
	savedPath, err := ws.saveUpload(file, header.Filename, kind, jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store upload", err)
		return
	}

	job := &store.UploadJob{
		ID:           jobID,
		MediaKind:    kind,
		OriginalPath: savedPath,
		ZoneID:       zoneID,
		CameraID:     cameraID,
	}
	if err := ws.Pipeline.Submit(job); err != nil {
		_ = os.Remove(savedPath)
		writeError(w, http.StatusServiceUnavailable, "Failed to queue job", err)
		return
	}

	done, err := ws.Pipeline.Wait(jobID, ws.Settings.JobWaitTimeout)
	if err != nil {
		// Still processing; the client can poll.
		writeJSON(w, http.StatusAccepted, APIResponse{
			Success: true,
			Message: "Processing in progress, poll /api/jobs/" + jobID,
			Data:    map[string]string{"job_id": jobID},
		})
		return
	}

	if done.Status == common.JobFailed {
		writeError(w, statusForReason(done.ReasonCode), done.Message, nil)
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Upload processed successfully",
		Data:    jobView(&done),
	})
}

// jobView augments the stored job with the artifact URL.
func jobView(job *store.UploadJob) map[string]interface{} {
	view := map[string]interface{}{
		"job": job,
	}
	if job.ProcessedPath != "" {
		view["file_url"] = "/api/files/" + filepath.Base(job.ProcessedPath)
	}
	return view
}

func (ws *WebServer) saveUpload(file io.Reader, originalName string, kind common.MediaKind, jobID string) (string, error) {
	dir := config.UploadImageDir
	if kind == common.MediaKindVideo {
		dir = config.UploadVideoDir
	}
	dir = filepath.Join(ws.Settings.DataDir, dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	dst := filepath.Join(dir, jobID+ext)
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func (ws *WebServer) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	switch r.Method {
	case "GET":
		job, err := ws.Store.GetJob(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "Job not found", err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Job retrieved successfully",
			Data:    jobView(&job),
		})

	case "DELETE":
		if err := ws.Pipeline.Cancel(id); err != nil {
			writeError(w, http.StatusConflict, "Job is not cancellable", err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Cancellation requested",
		})
	}
}

// windowFromQuery reads the hours parameter, defaulting to 24.
func windowFromQuery(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return 24 * time.Hour, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return 0, fmt.Errorf("hours must be a positive integer, got %q", raw)
	}
	return time.Duration(hours) * time.Hour, nil
}

func (ws *WebServer) handleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours parameter", err)
		return
	}
	metrics, err := ws.Dashboard.MetricsWindow(time.Now(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Metrics retrieved successfully",
		Data:    metrics,
	})
}

func (ws *WebServer) handleDashboardHeatmap(w http.ResponseWriter, r *http.Request) {
	heatmap, err := ws.Dashboard.Heatmap()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute heatmap", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Heatmap retrieved successfully",
		Data:    heatmap,
	})
}

func (ws *WebServer) handleDashboardAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter", err)
			return
		}
		limit = parsed
	}
	alerts, err := ws.Store.RecentAlerts(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Alerts retrieved successfully",
		Data:    alerts,
	})
}

func (ws *WebServer) handleDensityTrends(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours parameter", err)
		return
	}
	var zoneID uint
	if raw := r.URL.Query().Get("zone_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid zone_id parameter", err)
			return
		}
		zoneID = uint(parsed)
	}
	trends, err := ws.Dashboard.DensityTrends(time.Now(), window, zoneID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute trends", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Density trends retrieved successfully",
		Data:    trends,
	})
}

func (ws *WebServer) handleZoneStats(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours parameter", err)
		return
	}
	stats, err := ws.Dashboard.ZoneStatsWindow(time.Now(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute zone stats", err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Zone stats retrieved successfully",
		Data:    stats,
	})
}

func (ws *WebServer) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours parameter", err)
		return
	}
	csvData, err := ws.Dashboard.ExportCSV(time.Now(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to export records", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=detections_%s.csv", time.Now().Format("20060102_150405")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csvData))
}

func (ws *WebServer) handleAPIZones(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		zones, err := ws.Store.ListZones()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list zones", err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Zones retrieved successfully",
			Data:    zones,
		})

	case "POST":
		var zone store.Zone
		if err := json.NewDecoder(r.Body).Decode(&zone); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if err := ws.Store.CreateZone(&zone); err != nil {
			writeError(w, http.StatusBadRequest, "Failed to create zone", err)
			return
		}
		log.Info("created zone", zap.Uint("id", zone.ID), zap.String("name", zone.Name))
		writeJSON(w, http.StatusCreated, APIResponse{
			Success: true,
			Message: "Zone created successfully",
			Data:    &zone,
		})
	}
}

func (ws *WebServer) handleAPIZoneByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid zone ID", err)
		return
	}

	switch r.Method {
	case "GET":
		zone, err := ws.Store.GetZone(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "Zone not found", err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Zone retrieved successfully",
			Data:    zone,
		})

	case "PUT":
		zone, err := ws.Store.GetZone(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "Zone not found", err)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&zone); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		zone.ID = id
		if err := ws.Store.UpdateZone(&zone); err != nil {
			writeError(w, http.StatusBadRequest, "Failed to update zone", err)
			return
		}
		log.Info("updated zone", zap.Uint("id", zone.ID), zap.String("name", zone.Name))
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Zone updated successfully",
			Data:    &zone,
		})
	}
}

func (ws *WebServer) handleAPICameras(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		cameras, err := ws.Store.ListCameras()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list cameras", err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Cameras retrieved successfully",
			Data:    cameras,
		})

	case "POST":
		var camera store.Camera
		if err := json.NewDecoder(r.Body).Decode(&camera); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if camera.Name == "" {
			writeError(w, http.StatusBadRequest, "Camera name is required", nil)
			return
		}
		if camera.ZoneID != nil {
			if _, err := ws.Store.GetZone(*camera.ZoneID); err != nil {
				writeError(w, http.StatusBadRequest, "Referenced zone does not exist", err)
				return
			}
		}
		if err := ws.Store.CreateCamera(&camera); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to create camera", err)
			return
		}
		log.Info("created camera", zap.Uint("id", camera.ID), zap.String("name", camera.Name))
		writeJSON(w, http.StatusCreated, APIResponse{
			Success: true,
			Message: "Camera created successfully",
			Data:    &camera,
		})
	}
}

func (ws *WebServer) handleAPICameraByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid camera ID", err)
		return
	}

	switch r.Method {
	case "GET":
		camera, err := ws.Store.GetCamera(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "Camera not found", err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Camera retrieved successfully",
			Data:    camera,
		})

	case "PUT":
		camera, err := ws.Store.GetCamera(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "Camera not found", err)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&camera); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		camera.ID = id
		if camera.ZoneID != nil {
			if _, err := ws.Store.GetZone(*camera.ZoneID); err != nil {
				writeError(w, http.StatusBadRequest, "Referenced zone does not exist", err)
				return
			}
		}
		if err := ws.Store.UpdateCamera(&camera); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to update camera", err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Camera updated successfully",
			Data:    &camera,
		})

	case "DELETE":
		if err := ws.Store.DeleteCamera(id); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to delete camera", err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Message: "Camera deleted successfully",
		})
	}
}

// handleProcessedFile serves artifacts from the processed directory only.
// The name is restricted to a bare filename so path traversal cannot reach
// outside it.
func (ws *WebServer) handleProcessedFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "Invalid file name", nil)
		return
	}
	path := filepath.Join(ws.Settings.DataDir, config.ProcessedDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "File not found", err)
		return
	}
	http.ServeFile(w, r, path)
}

func (ws *WebServer) handleAPIPing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "pong",
		Data:    map[string]string{"time": time.Now().Format(time.RFC3339)},
	})
}

func pathID(r *http.Request) (uint, error) {
	raw := mux.Vars(r)["id"]
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(parsed), nil
}

func optionalUintForm(r *http.Request, field string) (*uint, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%s must be a positive integer, got %q", field, raw)
	}
	value := uint(parsed)
	return &value, nil
}
