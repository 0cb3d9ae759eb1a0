package models

// AlarmLevel captures alarm severity.
type AlarmLevel string

const (
	AlarmHigh   AlarmLevel = "high"
	AlarmMedium AlarmLevel = "medium"
	AlarmLow    AlarmLevel = "low"
)

// AlarmMessage is the unit delivered to alarm channels. Origin identifies the
// rule or component that raised it and is the key flood control gates on.
type AlarmMessage struct {
	Level         AlarmLevel `json:"level"`
	Origin        string     `json:"origin"`
	Message       string     `json:"message"`
	ExceptionText string     `json:"exception,omitempty"`
	StorageID     string     `json:"storage_id,omitempty"`
}

// NewAlarm builds an AlarmMessage without exception or storage references.
func NewAlarm(level AlarmLevel, origin, message string) AlarmMessage {
	return AlarmMessage{Level: level, Origin: origin, Message: message}
}
