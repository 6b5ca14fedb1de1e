package model

// SequenceCounter is an atomically incremented counter scoped by (Scope, Period),
// e.g. ("sale:<register>", "20260314") or ("nfce:1", "").
type SequenceCounter struct {
	Scope     string `gorm:"type:varchar(80);primaryKey"`
	Period    string `gorm:"type:varchar(10);primaryKey"`
	LastValue int64  `gorm:"not null"`
}

func (SequenceCounter) TableName() string { return "sequence_counters" }
