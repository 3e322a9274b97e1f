// Package normalize turns loosely structured booking-system change
// notifications into canonical domain.AppointmentEvent values.
//
// Upstream payload shapes are not stable: field names vary by source and
// revision, values may be scalars, nested objects, or lists of objects. The
// normalizer walks several candidate paths per field and never fails on a
// missing optional field. Only a missing or unknown event kind, a missing
// appointment id, or a present-but-invalid phone produce a *Failure.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/appointment-notifier/internal/domain"
)

// Failure reasons.
const (
	ReasonMissingKind = "missing_kind"
	ReasonUnknownKind = "unknown_kind"
	ReasonMissingID   = "missing_id"
	ReasonBadPhone    = "bad_phone"
)

// Failure reports a payload that cannot be turned into an event.
type Failure struct {
	Reason string
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return "normalization failed: " + f.Reason
	}
	return fmt.Sprintf("normalization failed: %s (%s)", f.Reason, f.Detail)
}

// Candidate paths, most specific first. A dot descends into a nested object;
// a list met on the way is replaced by its first element.
var (
	kindPaths    = []string{"status", "event", "event_type", "type", "action", "data.event"}
	idPaths      = []string{"resource_id", "record_id", "appointment_id", "data.id", "data.record_id", "data.appointment_id", "record.id", "id"}
	companyPaths = []string{"company_id", "data.company_id", "record.company_id"}
	phonePaths   = []string{"data.client.phone", "client.phone", "record.client.phone", "data.client_phone", "data.phone", "client_phone", "phone"}
	namePaths    = []string{"data.client.name", "client.name", "record.client.name", "data.client_name", "client_name"}
	timePaths    = []string{"data.datetime", "datetime", "record.datetime", "data.date", "data.start_at", "start_at", "data.start_time", "start_time", "scheduled_at", "date"}
	servicePaths = []string{"data.services", "services", "record.services", "data.service", "service", "data.service_name", "service_name"}
	staffPaths   = []string{"data.staff", "staff", "record.staff", "data.master", "master", "data.staff_name", "staff_name"}
	pricePaths   = []string{"data.cost", "cost", "data.price", "price", "data.services.cost", "services.cost", "record.services.cost", "data.services.price"}
	deletedPaths = []string{"data.deleted", "deleted", "record.deleted"}
)

// labelKeys are tried, in order, when a label value is an object.
var labelKeys = []string{"title", "name", "label", "value"}

// kindSynonyms collapses upstream wording to the three canonical kinds.
var kindSynonyms = map[string]domain.EventKind{
	"create":         domain.EventCreated,
	"created":        domain.EventCreated,
	"new":            domain.EventCreated,
	"record_created": domain.EventCreated,
	"booked":         domain.EventCreated,
	"update":         domain.EventUpdated,
	"updated":        domain.EventUpdated,
	"edit":           domain.EventUpdated,
	"edited":         domain.EventUpdated,
	"change":         domain.EventUpdated,
	"changed":        domain.EventUpdated,
	"record_updated": domain.EventUpdated,
	"delete":         domain.EventCancelled,
	"deleted":        domain.EventCancelled,
	"cancel":         domain.EventCancelled,
	"cancelled":      domain.EventCancelled,
	"canceled":       domain.EventCancelled,
	"remove":         domain.EventCancelled,
	"removed":        domain.EventCancelled,
	"record_deleted": domain.EventCancelled,
}

// Normalizer converts raw payloads. Location is applied to timestamps that
// carry no UTC offset; nil means UTC.
type Normalizer struct {
	Location *time.Location
}

// Normalize extracts an AppointmentEvent from raw. It returns a *Failure for
// unusable payloads and never panics on unexpected shapes.
func (n Normalizer) Normalize(raw map[string]any) (domain.AppointmentEvent, error) {
	var ev domain.AppointmentEvent

	kind, kindRaw := eventKind(raw)
	if kind == "" {
		if kindRaw == "" {
			return ev, &Failure{Reason: ReasonMissingKind}
		}
		return ev, &Failure{Reason: ReasonUnknownKind, Detail: kindRaw}
	}
	// A record flagged deleted is a cancellation regardless of the verb.
	if b, ok := firstValue(raw, deletedPaths).(bool); ok && b {
		kind = domain.EventCancelled
	}
	ev.Kind = kind

	ev.AppointmentID = firstString(raw, idPaths)
	if ev.AppointmentID == "" {
		return ev, &Failure{Reason: ReasonMissingID}
	}

	if p := firstString(raw, phonePaths); p != "" {
		key, err := Phone(p)
		if err != nil {
			return ev, &Failure{Reason: ReasonBadPhone, Detail: err.Error()}
		}
		ev.ContactKey = key
	}

	ev.CompanyID = firstString(raw, companyPaths)
	ev.ClientName = firstString(raw, namePaths)
	for _, p := range timePaths {
		if ts, ok := ParseTime(lookup(raw, p), n.Location); ok {
			ev.ScheduledAt = &ts
			break
		}
	}
	ev.ServiceLabel = firstLabel(raw, servicePaths)
	ev.StaffLabel = firstLabel(raw, staffPaths)
	ev.PriceLabel = firstString(raw, pricePaths)
	return ev, nil
}

// eventKind returns the first kind candidate that names a known kind. When
// none does, raw is the first non-empty candidate, or "" if all are empty.
func eventKind(m map[string]any) (kind domain.EventKind, raw string) {
	for _, p := range kindPaths {
		s := strings.TrimSpace(scalarString(lookup(m, p)))
		if s == "" {
			continue
		}
		if k, ok := kindSynonyms[strings.ToLower(s)]; ok {
			return k, s
		}
		if raw == "" {
			raw = s
		}
	}
	return "", raw
}

// lookup walks a dotted path through nested maps. Lists are unwrapped to their
// first element at every step, including the final one.
func lookup(raw map[string]any, path string) any {
	var cur any = raw
	for _, part := range strings.Split(path, ".") {
		cur = firstElem(cur)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return firstElem(cur)
}

func firstElem(v any) any {
	if l, ok := v.([]any); ok {
		if len(l) == 0 {
			return nil
		}
		return l[0]
	}
	return v
}

func firstValue(raw map[string]any, paths []string) any {
	for _, p := range paths {
		if v := lookup(raw, p); v != nil {
			return v
		}
	}
	return nil
}

// firstString returns the first candidate that renders to a non-empty scalar.
func firstString(raw map[string]any, paths []string) string {
	for _, p := range paths {
		if s := strings.TrimSpace(scalarString(lookup(raw, p))); s != "" {
			return s
		}
	}
	return ""
}

// firstLabel is firstString that also accepts objects carrying a
// title/name-like key.
func firstLabel(raw map[string]any, paths []string) string {
	for _, p := range paths {
		v := lookup(raw, p)
		if m, ok := v.(map[string]any); ok {
			for _, k := range labelKeys {
				if s := strings.TrimSpace(scalarString(firstElem(m[k]))); s != "" {
					return s
				}
			}
			continue
		}
		if s := strings.TrimSpace(scalarString(v)); s != "" {
			return s
		}
	}
	return ""
}

// scalarString renders strings and numbers; other types yield "".
// Integral floats are printed without a fractional part so JSON ids like
// 123 do not become "123.000000".
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return scalarString(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	default:
		return ""
	}
}
