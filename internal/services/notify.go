package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/namecache"
	"github.com/abrezinsky/eventxp/pkg/pushgw"
)

// Notification types
const (
	NotifyEventCreated     = "event_created"
	NotifyEventUpdated     = "event_updated"
	NotifyStatusChanged    = "event_status_changed"
	NotifyEventDeleted     = "event_deleted"
	NotifyEventClosed      = "event_closed"
	NotifyTeamsChanged     = "teams_changed"
	NotifyVotingChanged    = "voting_changed"
	NotifyWinnersFinalized = "winners_finalized"
	NotifyXPAwarded        = "xp_awarded"
)

// Notification describes a committed change worth telling people about
type Notification struct {
	Type       string             `json:"type"`
	EventID    string             `json:"eventId"`
	EventName  string             `json:"eventName,omitempty"`
	Status     models.EventStatus `json:"status,omitempty"`
	Recipients []string           `json:"recipients,omitempty"`
	Payload    any                `json:"payload,omitempty"`
}

// Notifier delivers notifications somewhere
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// MultiNotifier fans a notification out to every notifier and joins their errors
type MultiNotifier []Notifier

// Notify implements Notifier
func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// PushNotifier forwards notifications to the push gateway
type PushNotifier struct {
	Client pushgw.Client
}

// Notify implements Notifier
func (p PushNotifier) Notify(ctx context.Context, n Notification) error {
	return p.Client.Push(ctx, pushgw.Message{
		Type:       n.Type,
		EventID:    n.EventID,
		EventName:  n.EventName,
		Recipients: n.Recipients,
		Data:       n.Payload,
	})
}

// NameLookup resolves an event's display name from the store
type NameLookup func(ctx context.Context, eventID string) (string, error)

// Dispatcher runs a Notifier after a change has committed. Failures never
// undo the change; they come back as a warning string.
type Dispatcher struct {
	log      logger.Logger
	notifier Notifier
	names    *namecache.Cache[string, string]
	lookup   NameLookup
	timeout  time.Duration
}

// NewDispatcher creates a Dispatcher. names and lookup may be nil.
func NewDispatcher(log logger.Logger, notifier Notifier, names *namecache.Cache[string, string], lookup NameLookup, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		log:      log,
		notifier: notifier,
		names:    names,
		lookup:   lookup,
		timeout:  timeout,
	}
}

// Remember records the current name of ev
func (d *Dispatcher) Remember(ev *models.Event) {
	if d == nil || d.names == nil || ev == nil {
		return
	}
	d.names.Set(ev.ID, ev.Details.EventName)
}

// Forget drops a cached name
func (d *Dispatcher) Forget(eventID string) {
	if d == nil || d.names == nil {
		return
	}
	d.names.Delete(eventID)
}

// Name resolves an event name through the cache. Unknown names are empty.
func (d *Dispatcher) Name(ctx context.Context, eventID string) string {
	if d == nil || d.names == nil || d.lookup == nil || eventID == "" {
		return ""
	}
	name, err := d.names.GetOrLoad(ctx, eventID, d.lookup)
	if err != nil {
		d.log.Debug("Event name lookup failed", "event_id", eventID, "error", err)
		return ""
	}
	return name
}

// Dispatch delivers n and returns a warning when delivery failed
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) string {
	if d == nil || d.notifier == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if n.EventName == "" {
		n.EventName = d.Name(ctx, n.EventID)
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.log.Warn("Notification dispatch failed", "type", n.Type, "event_id", n.EventID, "error", err)
		return fmt.Sprintf("notification %s was not delivered: %v", n.Type, err)
	}
	return ""
}

// notify dispatches a notification about ev to everyone involved in it
func (b *base) notify(ctx context.Context, typ string, ev *models.Event, payload any) string {
	return b.notifier.Dispatch(ctx, Notification{
		Type:       typ,
		EventID:    ev.ID,
		Status:     ev.Status,
		Recipients: audience(ev),
		Payload:    payload,
	})
}

// audience lists organizers and contestants of ev, sorted and de-duplicated
func audience(ev *models.Event) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ids []string) {
		for _, id := range ids {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	add(ev.AllOrganizers())
	add(ev.Participants)
	add(ev.TeamMemberFlatList)
	sort.Strings(out)
	return out
}
