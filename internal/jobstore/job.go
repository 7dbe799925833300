package jobstore

import "time"

// Status is one of a Job's lifecycle states.
type Status string

const (
	StatusPending      Status = "pending"
	StatusExtracting   Status = "extracting"
	StatusSynthesizing Status = "synthesizing"
	StatusBuilding     Status = "building"
	StatusComplete     Status = "complete"
	StatusFailed       Status = "failed"
)

func (s Status) terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job is a durable job record.
type Job struct {
	ID            int64    `json:"id"`
	LibraryBookID string   `json:"library_book_id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Series        string   `json:"series,omitempty"`
	SeriesIndex   *float64 `json:"series_index,omitempty"`
	Voice         string   `json:"voice"`
	Status        Status   `json:"status"`

	ChaptersTotal int `json:"chapters_total"`
	ChaptersDone  int `json:"chapters_done"`

	ErrorMessage string `json:"error_message,omitempty"`

	SourcePath string `json:"source_path"`
	CoverPath  string `json:"cover_path,omitempty"`
	OutputPath string `json:"output_path,omitempty"`

	QueuePosition *int64 `json:"queue_position,omitempty"`

	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	FileSizeBytes   *int64   `json:"file_size_bytes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BookFields is the input to Enqueue: everything known about a book
// before the pipeline runs. CoverPath is the optional sidecar cover
// image the library reader resolved next to the source file; when set
// it takes precedence over any cover embedded in the archive.
type BookFields struct {
	LibraryBookID string
	Title         string
	Author        string
	Series        string
	SeriesIndex   *float64
	Voice         string
	SourcePath    string
	CoverPath     string
}

// QueueSummary is the read-only aggregate returned by QueueSummary.
type QueueSummary struct {
	Pending      int `json:"pending"`
	Extracting   int `json:"extracting"`
	Synthesizing int `json:"synthesizing"`
	Building     int `json:"building"`
	Complete     int `json:"complete"`
	Failed       int `json:"failed"`
}
