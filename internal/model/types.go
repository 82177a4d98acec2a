package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// RunParameters is the effective configuration a run was stepped with.
type RunParameters struct {
	CD200Weight            float64 `json:"cd200_weight"`
	CD200Enabled           bool    `json:"cd200_enabled"`
	MHCIIFr3Weight         float64 `json:"mhc_ii_fr3_weight"`
	MHCIIMBPWeight         float64 `json:"mhc_ii_mbp_weight"`
	MHCICDR12Weight        float64 `json:"mhc_i_cdr12_weight"`
	AdhesionMinimum        float64 `json:"adhesion_minimum"`
	ActivationThreshold    float64 `json:"activation_threshold"`
	Floor                  float64 `json:"floor"`
	ClampFloor             bool    `json:"clamp_floor"`
	Ceiling                float64 `json:"ceiling"`
	PrimingReductionFactor float64 `json:"priming_reduction_factor"`
	Workers                int     `json:"workers"`
	Mutual                 bool    `json:"mutual"`
}

type RunRecord struct {
	VersionedRecord
	ID             string        `json:"id"`
	Scenario       string        `json:"scenario"`
	Status         RunStatus     `json:"status"`
	Error          string        `json:"error,omitempty"`
	RequestedTicks int           `json:"requested_ticks"`
	CompletedTicks int           `json:"completed_ticks"`
	Agents         int           `json:"agents"`
	Pairs          int           `json:"pairs"`
	Activated      int           `json:"activated"`
	Parameters     RunParameters `json:"parameters"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// TickDiagnostics summarizes one tick of a run.
type TickDiagnostics struct {
	Tick      uint64  `json:"tick"`
	Pairs     int     `json:"pairs"`
	Bonds     int     `json:"bonds"`
	Touched   int     `json:"touched"`
	Crossings int     `json:"crossings"`
	Signals   int     `json:"signals"`
	Resets    int     `json:"resets"`
	NetDelta  float64 `json:"net_delta"`
	MeanTotal float64 `json:"mean_total"`
	Activated int     `json:"activated"`
}

type CrossingRecord struct {
	VersionedRecord
	AgentID string  `json:"agent_id"`
	Kind    string  `json:"kind"`
	Tick    uint64  `json:"tick"`
	Total   float64 `json:"total"`
}

// AgentSummary is an agent's accumulator and CD200R state at the end of a
// run.
type AgentSummary struct {
	VersionedRecord
	AgentID         string   `json:"agent_id"`
	Kind            string   `json:"kind"`
	Expressed       []string `json:"expressed"`
	Total           float64  `json:"total"`
	HighWater       float64  `json:"high_water"`
	Crossed         bool     `json:"crossed"`
	Applied         int      `json:"applied"`
	Resets          int      `json:"resets"`
	SignalsReceived int      `json:"signals_received"`
	PrimingCapacity float64  `json:"priming_capacity"`
}
