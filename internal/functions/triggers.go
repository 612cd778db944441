package functions

import (
	"fmt"
	"strings"
)

// TriggerKind identifies a trigger variant.
type TriggerKind string

const (
	TriggerKindHTTP     TriggerKind = "http"
	TriggerKindSchedule TriggerKind = "schedule"
	TriggerKindDatabase TriggerKind = "database"
	TriggerKindEvent    TriggerKind = "event"
	TriggerKindWebhook  TriggerKind = "webhook"
)

// Trigger is a closed union over the five trigger variants. Dispatch sites
// switch exhaustively on the concrete type, so adding a variant is a
// compile-time-checked change.
type Trigger interface {
	Kind() TriggerKind
	isTrigger()
}

// HTTPTrigger fires on an inbound request matching method and path.
type HTTPTrigger struct {
	Methods []string `json:"methods"`
	Path    string   `json:"path"`
}

func (HTTPTrigger) Kind() TriggerKind { return TriggerKindHTTP }
func (HTTPTrigger) isTrigger()        {}

// AllowsMethod reports whether the HTTP method is accepted.
func (t HTTPTrigger) AllowsMethod(method string) bool {
	if len(t.Methods) == 0 {
		return true
	}
	for _, m := range t.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// ScheduleTrigger fires when the 5-field cron pattern matches wall-clock
// time, subject to the scheduler's minimum inter-run gap.
type ScheduleTrigger struct {
	Cron string `json:"cron"`
}

func (ScheduleTrigger) Kind() TriggerKind { return TriggerKindSchedule }
func (ScheduleTrigger) isTrigger()        {}

// Operation is a row-change operation on a watched table.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// DatabaseTrigger fires when a change notification for the table arrives
// with a matching operation.
type DatabaseTrigger struct {
	Table      string      `json:"table"`
	Operations []Operation `json:"operations"`
	Channel    string      `json:"channel"`
}

func (DatabaseTrigger) Kind() TriggerKind { return TriggerKindDatabase }
func (DatabaseTrigger) isTrigger()        {}

// MatchesOperation reports whether the change operation is watched.
func (t DatabaseTrigger) MatchesOperation(op Operation) bool {
	if len(t.Operations) == 0 {
		return true
	}
	for _, o := range t.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// EventTrigger fires when the named event is emitted, in process or via
// the emit-event API.
type EventTrigger struct {
	Event string `json:"event"`
}

func (EventTrigger) Kind() TriggerKind { return TriggerKindEvent }
func (EventTrigger) isTrigger()        {}

// WebhookTrigger fires on an externally delivered payload with
// control-plane-supplied execution and delivery identifiers.
type WebhookTrigger struct {
	Method string `json:"method"`
}

func (WebhookTrigger) Kind() TriggerKind { return TriggerKindWebhook }
func (WebhookTrigger) isTrigger()        {}

// AllowsMethod reports whether the HTTP method is accepted.
func (t WebhookTrigger) AllowsMethod(method string) bool {
	return t.Method == "" || strings.EqualFold(t.Method, method)
}

// triggerSpec is the YAML/JSON wire form of a trigger, discriminated by
// the type field. It exists only at the manifest boundary; everything past
// parsing works with the typed union.
type triggerSpec struct {
	Type       string   `yaml:"type" json:"type"`
	Methods    []string `yaml:"methods" json:"methods,omitempty"`
	Method     string   `yaml:"method" json:"method,omitempty"`
	Path       string   `yaml:"path" json:"path,omitempty"`
	Cron       string   `yaml:"cron" json:"cron,omitempty"`
	Table      string   `yaml:"table" json:"table,omitempty"`
	Operations []string `yaml:"operations" json:"operations,omitempty"`
	Channel    string   `yaml:"channel" json:"channel,omitempty"`
	Event      string   `yaml:"event" json:"event,omitempty"`
}

func (s *triggerSpec) build(functionName string) (Trigger, error) {
	switch TriggerKind(s.Type) {
	case TriggerKindHTTP:
		path := s.Path
		if path == "" {
			path = "/" + functionName
		}
		methods := s.Methods
		if len(methods) == 0 && s.Method != "" {
			methods = []string{s.Method}
		}
		for i, m := range methods {
			methods[i] = strings.ToUpper(m)
		}
		return HTTPTrigger{Methods: methods, Path: path}, nil

	case TriggerKindSchedule:
		if s.Cron == "" {
			return nil, fmt.Errorf("schedule trigger requires a cron expression")
		}
		return ScheduleTrigger{Cron: s.Cron}, nil

	case TriggerKindDatabase:
		if s.Table == "" {
			return nil, fmt.Errorf("database trigger requires a table")
		}
		ops := make([]Operation, 0, len(s.Operations))
		for _, o := range s.Operations {
			op := Operation(strings.ToUpper(o))
			switch op {
			case OpInsert, OpUpdate, OpDelete:
				ops = append(ops, op)
			default:
				return nil, fmt.Errorf("unknown database operation %q", o)
			}
		}
		channel := s.Channel
		if channel == "" {
			channel = s.Table + "_changes"
		}
		return DatabaseTrigger{Table: s.Table, Operations: ops, Channel: channel}, nil

	case TriggerKindEvent:
		if s.Event == "" {
			return nil, fmt.Errorf("event trigger requires an event name")
		}
		return EventTrigger{Event: s.Event}, nil

	case TriggerKindWebhook:
		return WebhookTrigger{Method: strings.ToUpper(s.Method)}, nil

	default:
		return nil, fmt.Errorf("unknown trigger type %q", s.Type)
	}
}

// HTTPTriggerFor returns the first http trigger of a definition.
func HTTPTriggerFor(def *Definition) (HTTPTrigger, bool) {
	for _, t := range def.Triggers {
		if ht, ok := t.(HTTPTrigger); ok {
			return ht, true
		}
	}
	return HTTPTrigger{}, false
}

// WebhookTriggerFor returns the first webhook trigger of a definition.
func WebhookTriggerFor(def *Definition) (WebhookTrigger, bool) {
	for _, t := range def.Triggers {
		if wt, ok := t.(WebhookTrigger); ok {
			return wt, true
		}
	}
	return WebhookTrigger{}, false
}
