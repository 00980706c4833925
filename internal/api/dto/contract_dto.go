package dto

import "time"

// CreateContractRequest payload. Stages keep the order they are sent in.
type CreateContractRequest struct {
	Name    string         `json:"name"`
	Files   string         `json:"files"`
	Parties []int64        `json:"parties"`
	Stages  []StageRequest `json:"stages"`
}

// StageRequest describes one stage. Dates are YYYY-MM-DD.
type StageRequest struct {
	Start               *string `json:"start"`
	DisputeStartAllowed *string `json:"dispute_start_allowed"`
	Owner               int64   `json:"owner"`
}

// UpdateContractRequest payload. Omitted fields are left as is.
type UpdateContractRequest struct {
	Name  *string `json:"name"`
	Files *string `json:"files"`
}

// UpdateStageRequest payload. Dates are YYYY-MM-DD; omitted fields are left
// as is.
type UpdateStageRequest struct {
	Start               *string `json:"start"`
	DisputeStartAllowed *string `json:"dispute_start_allowed"`
	Owner               *int64  `json:"owner"`
}

// ContractResponse represents a case with its stages.
type ContractResponse struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Files     string          `json:"files"`
	Finished  int16           `json:"finished"`
	Parties   []int64         `json:"parties"`
	Stages    []StageResponse `json:"stages,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StageResponse represents a stage. Num is its position within the case.
type StageResponse struct {
	ID                  int64   `json:"id"`
	Num                 int     `json:"num"`
	Start               *string `json:"start"`
	DisputeStartAllowed *string `json:"dispute_start_allowed"`
	Owner               int64   `json:"owner"`
	DisputeStarted      *string `json:"dispute_started"`
	DisputeStarter      *int64  `json:"dispute_starter"`
	DisputeFinished     *string `json:"dispute_finished"`
	ResultFile          string  `json:"result_file"`
}
