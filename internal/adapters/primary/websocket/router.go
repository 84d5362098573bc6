package websocket

import (
	"encoding/json"
	"log/slog"

	"github.com/code-craka/visa-manager-app-sub001/internal/core/domain"
	"github.com/code-craka/visa-manager-app-sub001/internal/core/ports"
	"github.com/code-craka/visa-manager-app-sub001/internal/infrastructure/metrics"
)

// Router fans domain events out to the right subset of registered
// connections. Each publish is pure fan-out: build the envelope, serialize
// once, attempt a non-blocking send per recipient. A failed recipient is
// unregistered but never aborts delivery to the rest.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Ensure Router implements the producer-facing port.
var _ ports.Notifier = (*Router)(nil)

// NewRouter creates an event router over the given registry.
func NewRouter(registry *Registry, logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		registry: registry,
		logger:   logger.With("component", "event_router"),
		metrics:  m,
	}
}

// NotifyClientCreated broadcasts the new client to its agency's connections.
func (rt *Router) NotifyClientCreated(client domain.Client) {
	rt.publishToTenant(domain.NewTenantEvent(domain.EventClientCreated, client, client.AgencyID))
}

// NotifyClientUpdated broadcasts the updated client, optionally with a
// pre-image of the changed fields.
func (rt *Router) NotifyClientUpdated(client domain.Client, previous *domain.Client) {
	payload := domain.ClientUpdatedPayload{Client: client, Previous: previous}
	rt.publishToTenant(domain.NewTenantEvent(domain.EventClientUpdated, payload, client.AgencyID))
}

// NotifyClientDeleted broadcasts a deletion. Only the id and display name
// survive the delete, so that is all the payload carries.
func (rt *Router) NotifyClientDeleted(clientID int64, name, agencyID string) {
	payload := domain.ClientDeletedPayload{ClientID: clientID, Name: name}
	rt.publishToTenant(domain.NewTenantEvent(domain.EventClientDeleted, payload, agencyID))
}

// NotifyClientStats broadcasts refreshed applicant statistics to an agency.
func (rt *Router) NotifyClientStats(stats domain.ClientStats, agencyID string) {
	rt.publishToTenant(domain.NewTenantEvent(domain.EventClientStats, stats, agencyID))
}

// NotifyTaskCreated broadcasts the new task to its agency's connections.
func (rt *Router) NotifyTaskCreated(task domain.Task) {
	rt.publishToTenant(domain.NewTenantEvent(domain.EventTaskCreated, task, task.AgencyID))
}

// NotifyTaskUpdated broadcasts the updated task to its agency's connections.
func (rt *Router) NotifyTaskUpdated(task domain.Task, previous *domain.Task) {
	payload := domain.TaskUpdatedPayload{Task: task, Previous: previous}
	rt.publishToTenant(domain.NewTenantEvent(domain.EventTaskUpdated, payload, task.AgencyID))
}

// NotifyTaskDeleted broadcasts to every connection. No tenant context is
// available once the task row is gone, so this is a deliberate broad
// broadcast fallback, not a precision guarantee.
func (rt *Router) NotifyTaskDeleted(taskID int64, title string) {
	payload := domain.TaskDeletedPayload{TaskID: taskID, Title: title}
	rt.publishToAll(domain.NewEvent(domain.EventTaskDeleted, payload))
}

// NotifyTaskAssigned delivers the assignment to every connection of the
// assignee - a user with two tabs open gets it twice, once per connection.
func (rt *Router) NotifyTaskAssigned(task domain.Task, assignedTo, assignedBy string) {
	payload := domain.TaskAssignedPayload{Task: task, AssignedTo: assignedTo, AssignedBy: assignedBy}
	rt.publishToUser(domain.NewTenantEvent(domain.EventTaskAssigned, payload, task.AgencyID), assignedTo)
}

// NotifyTaskStats delivers refreshed workload statistics to one user.
func (rt *Router) NotifyTaskStats(stats domain.TaskStats, userID string) {
	rt.publishToUser(domain.NewEvent(domain.EventTaskStats, stats), userID)
}

// GetConnectionStats exposes the registry's observability snapshot.
func (rt *Router) GetConnectionStats() domain.ConnectionStats {
	return rt.registry.Stats()
}

func (rt *Router) publishToTenant(event domain.Event) {
	rt.publish(event, func(deliver func(*Connection)) {
		rt.registry.ForEachInTenant(event.AgencyID, deliver)
	})
}

func (rt *Router) publishToUser(event domain.Event, userID string) {
	rt.publish(event, func(deliver func(*Connection)) {
		rt.registry.ForEachForUser(userID, deliver)
	})
}

func (rt *Router) publishToAll(event domain.Event) {
	rt.publish(event, rt.registry.ForEachAll)
}

// publish serializes the event once and fans it out. Panics and internal
// errors stop at this boundary: producers call Notify* synchronously after a
// committed write and must never see a notification failure.
func (rt *Router) publish(event domain.Event, forEach func(func(*Connection))) {
	defer func() {
		if p := recover(); p != nil {
			rt.logger.Error("panic during event publish",
				"event_type", event.Type,
				"panic", p,
			)
		}
	}()

	payload, err := json.Marshal(event)
	if err != nil {
		rt.logger.Error("failed to marshal event",
			"event_type", event.Type,
			"error", err,
		)
		return
	}

	delivered := 0
	forEach(func(conn *Connection) {
		if err := conn.enqueue(payload); err != nil {
			rt.logger.Warn("delivery failed, dropping connection",
				"event_type", event.Type,
				"connection_id", conn.ID,
				"user_id", conn.UserID,
				"error", err,
			)
			rt.metrics.DeliveryFailed()
			rt.registry.Unregister(conn.ID)
			return
		}
		delivered++
	})

	rt.metrics.EventPublished(string(event.Type))

	rt.logger.Debug("event published",
		"event_type", event.Type,
		"agency_id", event.AgencyID,
		"recipients", delivered,
	)
}
