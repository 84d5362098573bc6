package ports

import "github.com/code-craka/visa-manager-app-sub001/internal/core/domain"

// Notifier is the publish API the CRUD services call after a committed write.
// Every method is fire-and-forget: delivery is best-effort and a notification
// failure must never fail the originating write, so nothing here returns an
// error.
type Notifier interface {
	NotifyClientCreated(client domain.Client)
	NotifyClientUpdated(client domain.Client, previous *domain.Client)
	NotifyClientDeleted(clientID int64, name, agencyID string)
	NotifyClientStats(stats domain.ClientStats, agencyID string)

	NotifyTaskCreated(task domain.Task)
	NotifyTaskUpdated(task domain.Task, previous *domain.Task)
	NotifyTaskDeleted(taskID int64, title string)
	NotifyTaskAssigned(task domain.Task, assignedTo, assignedBy string)
	NotifyTaskStats(stats domain.TaskStats, userID string)

	GetConnectionStats() domain.ConnectionStats
}
