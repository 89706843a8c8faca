package models

import "time"

// JournalState is the persisted ingestion cursor for one prefix/table pair
type JournalState struct {
	LastCompletedFile *string `json:"last_completed_file"`
	CurrentFile       *string `json:"current_file"`
	CurrentLine       int64   `json:"current_line"`
}

// IdleState returns the state used when nothing has been persisted yet
func IdleState() JournalState {
	return JournalState{}
}

// IsIdle reports whether no file is currently being ingested
func (s JournalState) IsIdle() bool {
	return s.CurrentFile == nil
}

// ObjectDescriptor identifies one ingestible object in the object store
type ObjectDescriptor struct {
	Key          string    `json:"key"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
}

// Event represents one decoded NDJSON line of an analytics export
type Event struct {
	InsertID                string     `json:"insert_id"`
	InsertKey               *string    `json:"insert_key,omitempty"`
	Schema                  *string    `json:"schema,omitempty"`
	Adid                    *string    `json:"adid,omitempty"`
	AmplitudeAttributionIDs []string   `json:"amplitude_attribution_ids,omitempty"`
	AmplitudeEventType      *string    `json:"amplitude_event_type,omitempty"`
	AmplitudeID             *int64     `json:"amplitude_id,omitempty"`
	App                     *int64     `json:"app,omitempty"`
	City                    *string    `json:"city,omitempty"`
	ClientEventTime         time.Time  `json:"client_event_time"`
	ClientUploadTime        *time.Time `json:"client_upload_time,omitempty"`
	Country                 *string    `json:"country,omitempty"`
	DataType                *string    `json:"data_type,omitempty"`
	DeviceBrand             *string    `json:"device_brand,omitempty"`
	DeviceCarrier           *string    `json:"device_carrier,omitempty"`
	DeviceFamily            *string    `json:"device_family,omitempty"`
	DeviceID                *string    `json:"device_id,omitempty"`
	DeviceManufacturer      *string    `json:"device_manufacturer,omitempty"`
	DeviceModel             *string    `json:"device_model,omitempty"`
	DeviceType              *string    `json:"device_type,omitempty"`
	DMA                     *string    `json:"dma,omitempty"`
	EventID                 *int64     `json:"event_id,omitempty"`
	EventTime               *time.Time `json:"event_time,omitempty"`
	EventType               *string    `json:"event_type,omitempty"`
	GlobalUserProperties    *string    `json:"global_user_properties,omitempty"`
	IDFA                    *string    `json:"idfa,omitempty"`
	IPAddress               *string    `json:"ip_address,omitempty"`
	IsAttributionEvent      *string    `json:"is_attribution_event,omitempty"`
	Language                *string    `json:"language,omitempty"`
	Library                 *string    `json:"library,omitempty"`
	LocationLat             *float64   `json:"location_lat,omitempty"`
	LocationLng             *float64   `json:"location_lng,omitempty"`
	OSName                  *string    `json:"os_name,omitempty"`
	OSVersion               *string    `json:"os_version,omitempty"`
	PartnerID               *string    `json:"partner_id,omitempty"`
	Paying                  *string    `json:"paying,omitempty"`
	Platform                *string    `json:"platform,omitempty"`
	ProcessedTime           *time.Time `json:"processed_time,omitempty"`
	Region                  *string    `json:"region,omitempty"`
	SampleRate              *float64   `json:"sample_rate,omitempty"`
	ServerReceivedTime      *time.Time `json:"server_received_time,omitempty"`
	ServerUploadTime        *time.Time `json:"server_upload_time,omitempty"`
	SessionID               *int64     `json:"session_id,omitempty"`
	SourceID                *string    `json:"source_id,omitempty"`
	StartVersion            *string    `json:"start_version,omitempty"`
	UserCreationTime        *time.Time `json:"user_creation_time,omitempty"`
	UserID                  *string    `json:"user_id,omitempty"`
	UUID                    *string    `json:"uuid,omitempty"`
	VersionName             *string    `json:"version_name,omitempty"`

	Data            map[string]any `json:"data,omitempty"`
	EventProperties map[string]any `json:"event_properties,omitempty"`
	GroupProperties map[string]any `json:"group_properties,omitempty"`
	Groups          map[string]any `json:"groups,omitempty"`
	Plan            map[string]any `json:"plan,omitempty"`
	UserProperties  map[string]any `json:"user_properties,omitempty"`

	// Extra keeps every input key the decoder does not map to a column
	Extra map[string]any `json:"extra,omitempty"`
}

// RunRequest describes one ingestion run
type RunRequest struct {
	Prefix    string `json:"prefix"`
	Table     string `json:"table_name"`
	StartFile string `json:"start_file,omitempty"`
	StartDate string `json:"start_date,omitempty"`
}

// RunHandle is returned to the caller that started a run
type RunHandle struct {
	ID        string    `json:"run_id"`
	Prefix    string    `json:"prefix"`
	Table     string    `json:"table_name"`
	StartedAt time.Time `json:"started_at"`
}

// IngestionStatus reports progress for a prefix/table pair
type IngestionStatus struct {
	CompletedFiles  int        `json:"completed_files"`
	TotalFiles      int        `json:"total_files"`
	CurrentFile     *string    `json:"current_file"`
	CurrentLine     int64      `json:"current_line"`
	CurrentProgress string     `json:"current_progress"`
	Status          string     `json:"status"` // "running", "idle"
	ActiveRun       *RunHandle `json:"active_run,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}
