package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyderes/event-archive-ingestion/internal/models"
)

var (
	// ErrUnsupportedTable is returned for table selectors other than web and mp
	ErrUnsupportedTable = errors.New("unsupported table")
	// ErrMissingPrimaryKey is returned when an event has no value for the table's key
	ErrMissingPrimaryKey = errors.New("event has no primary key value")
)

// Column maps one event attribute to a table column
type Column struct {
	Name  string
	Type  string
	Value func(*models.Event) any
}

// Table describes a target event table
type Table struct {
	Name       string
	PrimaryKey string
	Columns    []Column
}

// TableByName returns the table definition for a selector
func TableByName(name string) (*Table, error) {
	switch name {
	case "web":
		return WebTable(), nil
	case "mp":
		return MpTable(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTable, name)
	}
}

// ColumnNames returns the column names in insert order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Row returns the column values of ev in insert order
func (t *Table) Row(ev *models.Event) []any {
	row := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		row[i] = c.Value(ev)
	}
	return row
}

// Check rejects events that can not be stored in t
func (t *Table) Check(ev *models.Event) error {
	for _, c := range t.Columns {
		if c.Name == t.PrimaryKey && c.Value(ev) == nil {
			return fmt.Errorf("%w: table %s needs %s", ErrMissingPrimaryKey, t.Name, t.PrimaryKey)
		}
	}
	return nil
}

func text(name string, get func(*models.Event) *string) Column {
	return Column{Name: name, Type: "TEXT", Value: func(e *models.Event) any {
		if v := get(e); v != nil {
			return *v
		}
		return nil
	}}
}

func bigint(name string, get func(*models.Event) *int64) Column {
	return Column{Name: name, Type: "BIGINT", Value: func(e *models.Event) any {
		if v := get(e); v != nil {
			return *v
		}
		return nil
	}}
}

func double(name string, get func(*models.Event) *float64) Column {
	return Column{Name: name, Type: "DOUBLE PRECISION", Value: func(e *models.Event) any {
		if v := get(e); v != nil {
			return *v
		}
		return nil
	}}
}

func timestamp(name string, get func(*models.Event) *time.Time) Column {
	return Column{Name: name, Type: "TIMESTAMPTZ", Value: func(e *models.Event) any {
		if v := get(e); v != nil {
			return v.UTC()
		}
		return nil
	}}
}

// jsonb values are sent as JSON text
func jsonb(name string, get func(*models.Event) any) Column {
	return Column{Name: name, Type: "JSONB", Value: func(e *models.Event) any {
		v := get(e)
		if v == nil {
			return nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	}}
}

func objectJSON(name string, get func(*models.Event) map[string]any) Column {
	return jsonb(name, func(e *models.Event) any {
		if m := get(e); m != nil {
			return m
		}
		return nil
	})
}

func insertIDColumn() Column {
	return Column{Name: "insert_id", Type: "TEXT", Value: func(e *models.Event) any {
		if e.InsertID == "" {
			return nil
		}
		return e.InsertID
	}}
}

func clientEventTimeColumn() Column {
	return Column{Name: "client_event_time", Type: "TIMESTAMPTZ NOT NULL", Value: func(e *models.Event) any {
		return e.ClientEventTime.UTC()
	}}
}

func attributionIDsColumn() Column {
	return jsonb("amplitude_attribution_ids", func(e *models.Event) any {
		if e.AmplitudeAttributionIDs != nil {
			return e.AmplitudeAttributionIDs
		}
		return nil
	})
}

func payloadColumns() []Column {
	return []Column{
		objectJSON("data_json", func(e *models.Event) map[string]any { return e.Data }),
		objectJSON("event_properties_json", func(e *models.Event) map[string]any { return e.EventProperties }),
		objectJSON("group_properties_json", func(e *models.Event) map[string]any { return e.GroupProperties }),
		objectJSON("groups_json", func(e *models.Event) map[string]any { return e.Groups }),
		objectJSON("plan_json", func(e *models.Event) map[string]any { return e.Plan }),
		objectJSON("user_properties_json", func(e *models.Event) map[string]any { return e.UserProperties }),
	}
}

// WebTable is the wide event table keyed by insert_id
func WebTable() *Table {
	cols := []Column{
		insertIDColumn(),
		text("insert_key", func(e *models.Event) *string { return e.InsertKey }),
		text("schema", func(e *models.Event) *string { return e.Schema }),
		text("adid", func(e *models.Event) *string { return e.Adid }),
		attributionIDsColumn(),
		text("amplitude_event_type", func(e *models.Event) *string { return e.AmplitudeEventType }),
		bigint("amplitude_id", func(e *models.Event) *int64 { return e.AmplitudeID }),
		bigint("app", func(e *models.Event) *int64 { return e.App }),
		text("city", func(e *models.Event) *string { return e.City }),
		clientEventTimeColumn(),
		timestamp("client_upload_time", func(e *models.Event) *time.Time { return e.ClientUploadTime }),
		text("country", func(e *models.Event) *string { return e.Country }),
		text("data_type", func(e *models.Event) *string { return e.DataType }),
		text("device_brand", func(e *models.Event) *string { return e.DeviceBrand }),
		text("device_carrier", func(e *models.Event) *string { return e.DeviceCarrier }),
		text("device_family", func(e *models.Event) *string { return e.DeviceFamily }),
		text("device_id", func(e *models.Event) *string { return e.DeviceID }),
		text("device_manufacturer", func(e *models.Event) *string { return e.DeviceManufacturer }),
		text("device_model", func(e *models.Event) *string { return e.DeviceModel }),
		text("device_type", func(e *models.Event) *string { return e.DeviceType }),
		text("dma", func(e *models.Event) *string { return e.DMA }),
		bigint("event_id", func(e *models.Event) *int64 { return e.EventID }),
		timestamp("event_time", func(e *models.Event) *time.Time { return e.EventTime }),
		text("event_type", func(e *models.Event) *string { return e.EventType }),
		text("global_user_properties", func(e *models.Event) *string { return e.GlobalUserProperties }),
		text("idfa", func(e *models.Event) *string { return e.IDFA }),
		text("ip_address", func(e *models.Event) *string { return e.IPAddress }),
		text("is_attribution_event", func(e *models.Event) *string { return e.IsAttributionEvent }),
		text("language", func(e *models.Event) *string { return e.Language }),
		text("library", func(e *models.Event) *string { return e.Library }),
		double("location_lat", func(e *models.Event) *float64 { return e.LocationLat }),
		double("location_lng", func(e *models.Event) *float64 { return e.LocationLng }),
		text("os_name", func(e *models.Event) *string { return e.OSName }),
		text("os_version", func(e *models.Event) *string { return e.OSVersion }),
		text("partner_id", func(e *models.Event) *string { return e.PartnerID }),
		text("paying", func(e *models.Event) *string { return e.Paying }),
		text("platform", func(e *models.Event) *string { return e.Platform }),
		timestamp("processed_time", func(e *models.Event) *time.Time { return e.ProcessedTime }),
		text("region", func(e *models.Event) *string { return e.Region }),
		double("sample_rate", func(e *models.Event) *float64 { return e.SampleRate }),
		timestamp("server_received_time", func(e *models.Event) *time.Time { return e.ServerReceivedTime }),
		timestamp("server_upload_time", func(e *models.Event) *time.Time { return e.ServerUploadTime }),
		bigint("session_id", func(e *models.Event) *int64 { return e.SessionID }),
		text("source_id", func(e *models.Event) *string { return e.SourceID }),
		text("start_version", func(e *models.Event) *string { return e.StartVersion }),
		timestamp("user_creation_time", func(e *models.Event) *time.Time { return e.UserCreationTime }),
		text("user_id", func(e *models.Event) *string { return e.UserID }),
		text("uuid", func(e *models.Event) *string { return e.UUID }),
		text("version_name", func(e *models.Event) *string { return e.VersionName }),
	}
	cols = append(cols, payloadColumns()...)
	cols = append(cols, objectJSON("extra_json", func(e *models.Event) map[string]any { return e.Extra }))

	return &Table{Name: "web", PrimaryKey: "insert_id", Columns: cols}
}

// MpTable is the mobile event table keyed by uuid. Device, location and
// attribution attributes are not part of it.
func MpTable() *Table {
	cols := []Column{
		text("uuid", func(e *models.Event) *string { return e.UUID }),
		text("city", func(e *models.Event) *string { return e.City }),
		text("country", func(e *models.Event) *string { return e.Country }),
		text("device_id", func(e *models.Event) *string { return e.DeviceID }),
		bigint("event_id", func(e *models.Event) *int64 { return e.EventID }),
		timestamp("event_time", func(e *models.Event) *time.Time { return e.EventTime }),
		text("event_type", func(e *models.Event) *string { return e.EventType }),
		text("language", func(e *models.Event) *string { return e.Language }),
		text("os_name", func(e *models.Event) *string { return e.OSName }),
		text("os_version", func(e *models.Event) *string { return e.OSVersion }),
		text("platform", func(e *models.Event) *string { return e.Platform }),
		text("region", func(e *models.Event) *string { return e.Region }),
		bigint("session_id", func(e *models.Event) *int64 { return e.SessionID }),
		text("start_version", func(e *models.Event) *string { return e.StartVersion }),
		text("user_id", func(e *models.Event) *string { return e.UserID }),
		text("version_name", func(e *models.Event) *string { return e.VersionName }),
	}
	cols = append(cols, payloadColumns()...)

	return &Table{Name: "mp", PrimaryKey: "uuid", Columns: cols}
}
