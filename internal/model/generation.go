package model

// AnalysisResult is the output of the (mock) analysis endpoint.
type AnalysisResult struct {
	Summary    string   `json:"summary"`
	Details    string   `json:"details"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// ImageSource tells where an input image came from.
type ImageSource string

const (
	ImageSourceAlbum   ImageSource = "album"
	ImageSourceExample ImageSource = "example"
	ImageSourceCamera  ImageSource = "camera"
	ImageSourceModel   ImageSource = "model"
	ImageSourceRepair  ImageSource = "repair"
)

// ImageData identifies an input image.
type ImageData struct {
	ID        string      `json:"id"`
	URL       string      `json:"url"`
	Source    ImageSource `json:"source"`
	Timestamp int64       `json:"timestamp"`
}

// GenerationResult is one immutable history entry.
type GenerationResult struct {
	ID            string         `json:"id"`
	OriginalImage ImageData      `json:"originalImage"`
	GeneratedURL  string         `json:"generatedUrl"`
	Analysis      AnalysisResult `json:"analysis"`
	Timestamp     int64          `json:"timestamp"`
}

// RenderJobStatus is the lifecycle state of a RenderJob.
type RenderJobStatus string

const (
	RenderJobSubmitted RenderJobStatus = "submitted"
	RenderJobRendering RenderJobStatus = "rendering"
	RenderJobSuccess   RenderJobStatus = "success"
	RenderJobFailed    RenderJobStatus = "failed"
	RenderJobCancelled RenderJobStatus = "cancelled"
)

// RenderJob is the local tracking record of one upstream task. Times are unix
// milliseconds.
type RenderJob struct {
	JobID            string          `json:"jobId"`
	Kind             string          `json:"kind"`
	Title            string          `json:"title,omitempty"`
	TaskID           string          `json:"taskId"`
	Status           RenderJobStatus `json:"status"`
	StatusText       string          `json:"statusText"`
	CreatedAt        int64           `json:"createdAt"`
	UpdatedAt        int64           `json:"updatedAt"`
	CompletedAt      int64           `json:"completedAt,omitempty"`
	TimeoutMs        int64           `json:"timeoutMs"`
	OriginalThumbURL string          `json:"originalThumbUrl,omitempty"`
	OriginalURL      string          `json:"originalUrl,omitempty"`
	OriginalImageID  string          `json:"originalImageId,omitempty"`
	ResultURL        string          `json:"resultUrl,omitempty"`
	ResultID         string          `json:"resultId,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
}

// AnalyzeRequest is the body of POST /api/analyze and /api/generate.
type AnalyzeRequest struct {
	ImageDataURL string `json:"imageDataUrl"`
}

type AnalyzeResponse struct {
	Analysis AnalysisResult `json:"analysis"`
}

type GenerateResponse struct {
	GeneratedURL string `json:"generatedUrl"`
}
