package outbox

// Event is the domain event envelope written to the outbox table inside the
// same transaction as the ledger change it describes. The Kafka topic name
// equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics emitted by the engine. Notification and analytics collaborators
// subscribe to these; delivery is their concern, not ours.
const (
	EventAppointmentCreated   = "scheduling.appointment.created.v1"
	EventAppointmentConfirmed = "scheduling.appointment.confirmed.v1"
	EventAppointmentCancelled = "scheduling.appointment.cancelled.v1"
	EventAppointmentCompleted = "scheduling.appointment.completed.v1"
	EventAppointmentNoShow    = "scheduling.appointment.no_show.v1"
)
