package server

import (
	"bytes"
	"html/template"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/internal/models"
)

// displayTime is the timestamp layout of the dashboard.
const displayTime = "2006-01-02 15:04:05 MST"

// DashboardView is the display model of the dashboard. The page renders it
// on first paint and the client replaces it wholesale on every poll.
type DashboardView struct {
	LastUpdatedAt    time.Time  `json:"lastUpdatedAt"`
	LastBackupAt     *time.Time `json:"lastBackupAt"`
	IP               string     `json:"ip"`
	Status           string     `json:"status"`
	LastBackup       string     `json:"lastBackup"`
	LastUpdated      string     `json:"lastUpdated"`
	CountryCode      string     `json:"countryCode,omitempty"`
	CPU              float64    `json:"cpu"`
	RAM              float64    `json:"ram"`
	CPUBar           float64    `json:"cpuBar"`
	RAMBar           float64    `json:"ramBar"`
	PlayerPercent    float64    `json:"playerPercent"`
	PingProgress     float64    `json:"pingProgress"`
	PlayersCurrent   int        `json:"playersCurrent"`
	PlayersMax       int        `json:"playersMax"`
	Ping             int        `json:"ping"`
	Online           bool       `json:"online"`
	BackupInProgress bool       `json:"backupInProgress"`
	CanStart         bool       `json:"canStart"`
	CanStop          bool       `json:"canStop"`
}

// BuildView derives the display values from the state document.
func BuildView(m *models.ServerMetrics) DashboardView {
	online := m.Online()
	backup := m.BackupInProgress == models.FlagYes

	status := "OFFLINE"
	if online {
		status = "ONLINE"
	}

	ip := m.IP
	if ip == "" {
		ip = "IP unavailable"
	}

	maxPlayers := m.Players.Max
	if maxPlayers == 0 {
		maxPlayers = 1
	}

	lastBackup := "Never"
	if m.LastBackupTime != nil {
		lastBackup = m.LastBackupTime.UTC().Format(displayTime)
	}

	return DashboardView{
		IP:               ip,
		CountryCode:      m.CountryCode,
		Status:           status,
		Online:           online,
		BackupInProgress: backup,
		CanStart:         !online,
		CanStop:          online,
		PlayersCurrent:   m.Players.Current,
		PlayersMax:       m.Players.Max,
		PlayerPercent:    float64(m.Players.Current) / float64(maxPlayers) * 100,
		CPU:              m.CPU,
		RAM:              m.RAM,
		CPUBar:           clampPercent(m.CPU),
		RAMBar:           clampPercent(m.RAM),
		Ping:             m.Ping,
		PingProgress:     math.Min(float64(m.Ping)/2, 100),
		LastBackupAt:     m.LastBackupTime,
		LastBackup:       lastBackup,
		LastUpdatedAt:    m.LastUpdated,
		LastUpdated:      m.LastUpdated.UTC().Format(displayTime),
	}
}

// clampPercent limits a value to the 0..100 range of a progress bar.
func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(v, 100))
}

var templateFuncs = template.FuncMap{
	"num": func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	},
	"bar": func(v float64) template.CSS {
		return template.CSS("width: " + strconv.FormatFloat(clampPercent(v), 'f', 1, 64) + "%")
	},
}

// pageData is the dashboard template input.
type pageData struct {
	View         DashboardView
	PollInterval int64
}

// handleDashboardData returns the current view model, creating the state on first access.
func (s *Server) handleDashboardData(w http.ResponseWriter, r *http.Request) {
	m, err := s.state.Fetch(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "Failed to load server data")
		return
	}

	writeJSON(w, r, http.StatusOK, BuildView(m))
}

// handleIndex renders the dashboard page with the current state.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	m, err := s.state.Fetch(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load server data for dashboard")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := s.dashboard.Execute(&buf, pageData{
		View:         BuildView(m),
		PollInterval: s.pollInterval.Milliseconds(),
	}); err != nil {
		log.Error().Err(err).Msg("Failed to render dashboard")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = buf.WriteTo(w)
}
