package api

// CheckpointSummary is one entry in the checkpoint listing.
type CheckpointSummary struct {
	Key  string `json:"key"`
	Step int    `json:"step"`
}

// CheckpointList is the response body for the listing endpoint.
type CheckpointList struct {
	Checkpoints []CheckpointSummary `json:"checkpoints"`
}

// TensorInfo describes a single tensor in a checkpoint.
type TensorInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

// CheckpointDetail is the response body for a single checkpoint.
type CheckpointDetail struct {
	Key     string       `json:"key"`
	Step    int          `json:"step"`
	Tensors []TensorInfo `json:"tensors"`
}

// ResponseError is the error payload returned by all endpoints.
type ResponseError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}
