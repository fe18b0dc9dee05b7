package types

// RootResponse is returned by GET /.
type RootResponse struct {
	// example: Hello World
	Message string `json:"message" example:"Hello World"`
}

// PredictResponse is returned by POST /model/.
type PredictResponse struct {
	// Predicted emotion label.
	// example: happy
	Output string `json:"output" example:"happy"`
	// example: success
	Message string `json:"message" example:"success"`
	// Mirrors the HTTP status code.
	// example: 200
	StatusCode int `json:"status-code" example:"200"`
	// Per-class probabilities, only present when requested with ?probs=1.
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
}

// ModelInfo describes the loaded checkpoint, returned by GET /model/info.
type ModelInfo struct {
	// example: ["angry","disgust","fear","happy","neutral","sad","surprise"]
	Classes []string `json:"classes"`
	// Input images are resized to ImageSize x ImageSize grayscale.
	// example: 48
	ImageSize int `json:"image_size" example:"48"`
	// Epoch the checkpoint was written at.
	// example: 23
	Epoch int `json:"epoch" example:"23"`
	// example: 256
	Hidden int `json:"hidden" example:"256"`
	// Training run that produced the checkpoint, if recorded.
	RunID string `json:"run_id,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: field "data" is required
	Error string `json:"error" example:"field \"data\" is required"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
