package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// timeLayouts are tried in order. Fractional seconds are optional in every
// layout and a missing zone means UTC.
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses the timestamp formats found in event exports
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

var stringFields = map[string]func(*models.Event) **string{
	"$insert_key":          func(e *models.Event) **string { return &e.InsertKey },
	"insert_key":           func(e *models.Event) **string { return &e.InsertKey },
	"$schema":              func(e *models.Event) **string { return &e.Schema },
	"schema":               func(e *models.Event) **string { return &e.Schema },
	"adid":                 func(e *models.Event) **string { return &e.Adid },
	"amplitude_event_type": func(e *models.Event) **string { return &e.AmplitudeEventType },
	"city":                 func(e *models.Event) **string { return &e.City },
	"country":              func(e *models.Event) **string { return &e.Country },
	"data_type":            func(e *models.Event) **string { return &e.DataType },
	"device_brand":         func(e *models.Event) **string { return &e.DeviceBrand },
	"device_carrier":       func(e *models.Event) **string { return &e.DeviceCarrier },
	"device_family":        func(e *models.Event) **string { return &e.DeviceFamily },
	"device_id":            func(e *models.Event) **string { return &e.DeviceID },
	"device_manufacturer":  func(e *models.Event) **string { return &e.DeviceManufacturer },
	"device_model":         func(e *models.Event) **string { return &e.DeviceModel },
	"device_type":          func(e *models.Event) **string { return &e.DeviceType },
	"dma":                  func(e *models.Event) **string { return &e.DMA },
	"event_type":           func(e *models.Event) **string { return &e.EventType },
	"idfa":                 func(e *models.Event) **string { return &e.IDFA },
	"ip_address":           func(e *models.Event) **string { return &e.IPAddress },
	"is_attribution_event": func(e *models.Event) **string { return &e.IsAttributionEvent },
	"language":             func(e *models.Event) **string { return &e.Language },
	"library":              func(e *models.Event) **string { return &e.Library },
	"os_name":              func(e *models.Event) **string { return &e.OSName },
	"os_version":           func(e *models.Event) **string { return &e.OSVersion },
	"partner_id":           func(e *models.Event) **string { return &e.PartnerID },
	"paying":               func(e *models.Event) **string { return &e.Paying },
	"platform":             func(e *models.Event) **string { return &e.Platform },
	"region":               func(e *models.Event) **string { return &e.Region },
	"source_id":            func(e *models.Event) **string { return &e.SourceID },
	"start_version":        func(e *models.Event) **string { return &e.StartVersion },
	"user_id":              func(e *models.Event) **string { return &e.UserID },
	"uuid":                 func(e *models.Event) **string { return &e.UUID },
	"version_name":         func(e *models.Event) **string { return &e.VersionName },
}

var intFields = map[string]func(*models.Event) **int64{
	"amplitude_id": func(e *models.Event) **int64 { return &e.AmplitudeID },
	"app":          func(e *models.Event) **int64 { return &e.App },
	"event_id":     func(e *models.Event) **int64 { return &e.EventID },
	"session_id":   func(e *models.Event) **int64 { return &e.SessionID },
}

var floatFields = map[string]func(*models.Event) **float64{
	"location_lat": func(e *models.Event) **float64 { return &e.LocationLat },
	"location_lng": func(e *models.Event) **float64 { return &e.LocationLng },
	"sample_rate":  func(e *models.Event) **float64 { return &e.SampleRate },
}

var timeFields = map[string]func(*models.Event) **time.Time{
	"client_upload_time":   func(e *models.Event) **time.Time { return &e.ClientUploadTime },
	"event_time":           func(e *models.Event) **time.Time { return &e.EventTime },
	"processed_time":       func(e *models.Event) **time.Time { return &e.ProcessedTime },
	"server_received_time": func(e *models.Event) **time.Time { return &e.ServerReceivedTime },
	"server_upload_time":   func(e *models.Event) **time.Time { return &e.ServerUploadTime },
	"user_creation_time":   func(e *models.Event) **time.Time { return &e.UserCreationTime },
}

var objectFields = map[string]func(*models.Event) *map[string]any{
	"data":             func(e *models.Event) *map[string]any { return &e.Data },
	"event_properties": func(e *models.Event) *map[string]any { return &e.EventProperties },
	"group_properties": func(e *models.Event) *map[string]any { return &e.GroupProperties },
	"groups":           func(e *models.Event) *map[string]any { return &e.Groups },
	"plan":             func(e *models.Event) *map[string]any { return &e.Plan },
	"user_properties":  func(e *models.Event) *map[string]any { return &e.UserProperties },
}

// Decode turns one NDJSON line into an event. It returns ErrSkip for lines
// without an event, a *MalformedError for lines that can not be decoded and a
// *SchemaViolationError when a required field is missing or invalid.
func Decode(line []byte) (*models.Event, error) {
	line = bytes.TrimSpace(line)
	if isFiller(line) {
		return nil, ErrSkip
	}
	line = bytes.TrimSpace(bytes.TrimSuffix(line, []byte(",")))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, &MalformedError{Err: err}
	}
	if fields == nil {
		return nil, &MalformedError{Err: fmt.Errorf("line is not a JSON object")}
	}

	ev := &models.Event{}

	insertID, err := requiredInsertID(fields)
	if err != nil {
		return nil, err
	}
	ev.InsertID = insertID

	clientTime, err := requiredTime(fields, "client_event_time")
	if err != nil {
		return nil, err
	}
	ev.ClientEventTime = clientTime

	for _, pair := range aliasPairs {
		for _, key := range pair {
			raw, ok := fields[key]
			if !ok || isNull(raw) {
				continue
			}
			if err := decodeField(ev, key, raw); err != nil {
				return nil, &MalformedError{Field: key, Err: err}
			}
			break
		}
	}

	for key, raw := range fields {
		if aliased[key] {
			continue
		}
		if err := decodeField(ev, key, raw); err != nil {
			return nil, &MalformedError{Field: key, Err: err}
		}
	}

	return ev, nil
}

// aliasPairs lists keys exported under two names, preferred name first
var aliasPairs = [][2]string{
	{"$insert_key", "insert_key"},
	{"$schema", "schema"},
}

var aliased = map[string]bool{
	"$insert_key": true,
	"insert_key":  true,
	"$schema":     true,
	"schema":      true,
}

// isFiller reports blank lines and lone array brackets
func isFiller(line []byte) bool {
	rest := bytes.Trim(line, " \t,")
	return len(rest) == 0 || bytes.Equal(rest, []byte("[")) || bytes.Equal(rest, []byte("]"))
}

func requiredInsertID(fields map[string]json.RawMessage) (string, error) {
	for _, key := range []string{"$insert_id", "insert_id"} {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			continue
		}
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", &SchemaViolationError{Field: key, Reason: "is not a string"}
		}
		if id == "" {
			return "", &SchemaViolationError{Field: key, Reason: "is empty"}
		}
		return id, nil
	}
	return "", &SchemaViolationError{Field: "$insert_id", Reason: "is missing"}
}

func requiredTime(fields map[string]json.RawMessage, key string) (time.Time, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return time.Time{}, &SchemaViolationError{Field: key, Reason: "is missing"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, &SchemaViolationError{Field: key, Reason: "is not a string"}
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, &SchemaViolationError{Field: key, Reason: "is not a timestamp"}
	}
	return t, nil
}

func decodeField(ev *models.Event, key string, raw json.RawMessage) error {
	switch key {
	case "$insert_id", "insert_id", "client_event_time":
		return nil
	case "global_user_properties":
		v, err := textOrObject(raw)
		ev.GlobalUserProperties = v
		return err
	case "amplitude_attribution_ids":
		v, err := stringList(raw)
		ev.AmplitudeAttributionIDs = v
		return err
	}

	if field, ok := stringFields[key]; ok {
		v, err := text(raw)
		*field(ev) = v
		return err
	}
	if field, ok := intFields[key]; ok {
		v, err := integer(raw)
		*field(ev) = v
		return err
	}
	if field, ok := floatFields[key]; ok {
		v, err := float(raw)
		*field(ev) = v
		return err
	}
	if field, ok := timeFields[key]; ok {
		v, err := timestamp(raw)
		*field(ev) = v
		return err
	}
	if field, ok := objectFields[key]; ok {
		v, err := object(raw)
		*field(ev) = v
		return err
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if ev.Extra == nil {
		ev.Extra = make(map[string]any)
	}
	ev.Extra[key] = v
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// text accepts strings and renders numbers and booleans as their JSON text
func text(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return nil, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return &s, nil
	case '{', '[':
		return nil, fmt.Errorf("expected string, got %s", kind(raw))
	default:
		s := string(raw)
		return &s, nil
	}
}

func textOrObject(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if !isNull(raw) && raw[0] == '{' {
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil {
			return nil, err
		}
		s := compact.String()
		return &s, nil
	}
	return text(raw)
}

func integer(raw json.RawMessage) (*int64, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return nil, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
	} else if raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9') {
		s = string(raw)
	} else {
		return nil, fmt.Errorf("expected integer, got %s", kind(raw))
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return nil, fmt.Errorf("expected integer, got %q", s)
	}
	n := int64(f)
	return &n, nil
}

func float(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return nil, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
	} else if raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9') {
		s = string(raw)
	} else {
		return nil, fmt.Errorf("expected number, got %s", kind(raw))
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("expected number, got %q", s)
	}
	return &f, nil
}

func timestamp(raw json.RawMessage) (*time.Time, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected timestamp string, got %s", kind(raw))
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func object(raw json.RawMessage) (map[string]any, error) {
	if isNull(raw) {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("expected object, got %s", kind(bytes.TrimSpace(raw)))
	}
	return m, nil
}

func stringList(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("expected list of strings, got %s", kind(bytes.TrimSpace(raw)))
	}
	return list, nil
}

func kind(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "nothing"
	}
	switch raw[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
