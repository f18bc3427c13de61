package history

import "time"

// AttemptRecord is one finished booking attempt.
type AttemptRecord struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	AttemptID   string    `gorm:"uniqueIndex;not null" json:"attempt_id"`
	Phase       string    `gorm:"not null;index" json:"phase"`
	Stage       string    `json:"stage"`
	Reason      string    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	PNR         string    `gorm:"column:pnr" json:"pnr,omitempty"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	TravelClass string    `json:"class"`
	TrainNumber string    `json:"train_number,omitempty"`
	JourneyDate time.Time `json:"journey_date"`
	Passengers  int       `json:"passengers"`
	Retries     int       `json:"retries"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `gorm:"index" json:"finished_at"`
	CreatedAt   time.Time `json:"-"`
}

// PushSubscription is an operator's browser push endpoint.
type PushSubscription struct {
	Endpoint   string    `gorm:"primaryKey" json:"endpoint"`
	P256DH     string    `gorm:"column:p256dh;not null" json:"p256dh"`
	Auth       string    `gorm:"not null" json:"auth"`
	OperatorID int64     `gorm:"index" json:"-"`
	CreatedAt  time.Time `gorm:"not null" json:"-"`
}
