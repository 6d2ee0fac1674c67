package store

// RobotState is the fixed set of fields the robot-state accessor exposes.
// It mirrors the RT→Non-RT bridge snapshot's domain fields (see
// internal/shm) one layer up, at the data-store level.
type RobotState struct {
	Mode      int32
	PositionX float32
	PositionY float32
	Velocity  float32
}

// RobotStateAccessor is a thin, compile-time-validated façade over the
// store's robot-state keys: call sites depend on this interface, not on
// the store's underlying key layout.
type RobotStateAccessor struct {
	store *Store
	key   string
}

// NewRobotStateAccessor builds an accessor bound to a single hot key.
func NewRobotStateAccessor(s *Store, key string) *RobotStateAccessor {
	return &RobotStateAccessor{store: s, key: key}
}

// Get returns the current robot state.
func (a *RobotStateAccessor) Get() (RobotState, error) {
	return Get[RobotState](a.store, a.key)
}

// Set publishes a new robot state.
func (a *RobotStateAccessor) Set(s RobotState) error {
	return a.store.Set(a.key, s, nil)
}

// SensorReading is a single named sensor value plus the time it was taken.
type SensorReading struct {
	Value     float64
	Unit      string
	Timestamp int64 // unix nanos
}

// SensorDataAccessor exposes named sensor readings, each backed by its own
// store key (e.g. "sensor.temperature", "sensor.pressure").
type SensorDataAccessor struct {
	store  *Store
	prefix string
}

// NewSensorDataAccessor builds an accessor for sensors addressed under prefix.
func NewSensorDataAccessor(s *Store, prefix string) *SensorDataAccessor {
	return &SensorDataAccessor{store: s, prefix: prefix}
}

func (a *SensorDataAccessor) key(name string) string { return a.prefix + "." + name }

// GetTemperature reads "<prefix>.temperature".
func (a *SensorDataAccessor) GetTemperature() (SensorReading, error) {
	return Get[SensorReading](a.store, a.key("temperature"))
}

// SetTemperature publishes "<prefix>.temperature".
func (a *SensorDataAccessor) SetTemperature(r SensorReading) error {
	return a.store.Set(a.key("temperature"), r, nil)
}

// TaskStatus enumerates the lifecycle of an externally-tracked task.
type TaskStatus int

const (
	TaskStatusUnknown TaskStatus = iota
	TaskStatusPending
	TaskStatusRunning
	TaskStatusComplete
	TaskStatusFailed
)

// TaskStatusAccessor exposes the status of a single named task.
type TaskStatusAccessor struct {
	store *Store
	key   string
}

// NewTaskStatusAccessor builds an accessor bound to a single store key.
func NewTaskStatusAccessor(s *Store, key string) *TaskStatusAccessor {
	return &TaskStatusAccessor{store: s, key: key}
}

// Get returns the task's current status.
func (a *TaskStatusAccessor) Get() (TaskStatus, error) {
	return Get[TaskStatus](a.store, a.key)
}

// Set publishes the task's new status.
func (a *TaskStatusAccessor) Set(status TaskStatus) error {
	return a.store.Set(a.key, status, nil)
}
